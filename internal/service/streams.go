package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/veritest/veritest-backend/internal/config"
	"github.com/veritest/veritest-backend/internal/model"
)

// RedisIncidentSink queues incidents on the Redis list the batch persister
// drains. The hot path never writes incident rows to PostgreSQL directly.
type RedisIncidentSink struct {
	rdb *redis.Client
}

// NewRedisIncidentSink creates a new RedisIncidentSink.
func NewRedisIncidentSink(rdb *redis.Client) *RedisIncidentSink {
	return &RedisIncidentSink{rdb: rdb}
}

// Enqueue pushes one incident onto the persistence queue.
func (s *RedisIncidentSink) Enqueue(ctx context.Context, incident model.Incident) error {
	raw, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	return s.rdb.RPush(ctx, config.WorkerKey.PersistIncidentsQueue, raw).Err()
}

// RedisResultQueue queues result notices on the Redis list the notification
// dispatcher drains.
type RedisResultQueue struct {
	rdb *redis.Client
}

// NewRedisResultQueue creates a new RedisResultQueue.
func NewRedisResultQueue(rdb *redis.Client) *RedisResultQueue {
	return &RedisResultQueue{rdb: rdb}
}

// Enqueue pushes one result notice onto the notification queue.
func (q *RedisResultQueue) Enqueue(ctx context.Context, notice ResultNotice) error {
	raw, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal result notice: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.NotifyResultsQueue, raw).Err()
}

// RedisMonitorPublisher fans lifecycle events out on a per-exam Pub/Sub
// channel. Subscribers are the live monitor WebSocket sessions.
type RedisMonitorPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisMonitorPublisher creates a new RedisMonitorPublisher.
func NewRedisMonitorPublisher(rdb *redis.Client, log zerolog.Logger) *RedisMonitorPublisher {
	return &RedisMonitorPublisher{
		rdb: rdb,
		log: log.With().Str("component", "monitor_publisher").Logger(),
	}
}

// Publish sends one event to the exam's monitor channel. Best-effort: a
// publish failure is logged and swallowed, never surfaced to the student
// request that triggered it.
func (p *RedisMonitorPublisher) Publish(ctx context.Context, event MonitorEvent) {
	raw, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to marshal monitor event")
		return
	}
	channel := config.CacheKey.ExamMonitorChannel(event.ExamID.String())
	if err := p.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		p.log.Warn().Err(err).Str("channel", channel).Msg("Monitor publish failed")
	}
}

// NopMonitorPublisher discards events. Used in tests and when Redis is
// disabled.
type NopMonitorPublisher struct{}

// Publish discards the event.
func (NopMonitorPublisher) Publish(context.Context, MonitorEvent) {}

// Notifier delivers one finalized-attempt result to the student. The default
// implementation logs; a mail or push gateway can replace it.
type Notifier interface {
	Notify(ctx context.Context, notice ResultNotice) error
}

// LogNotifier writes result notices to the structured log.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

// Notify logs the result notice.
func (n *LogNotifier) Notify(_ context.Context, notice ResultNotice) error {
	n.log.Info().
		Str("attempt_id", notice.AttemptID.String()).
		Int("student_id", notice.StudentID).
		Str("grade", notice.Grade).
		Float64("percentage", notice.Percentage).
		Bool("is_passed", notice.IsPassed).
		Msg("Result ready")
	return nil
}
