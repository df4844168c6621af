package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/veritest/veritest-backend/internal/config"
	"github.com/veritest/veritest-backend/internal/service"
)

// NotifyWorker drains the result notification queue and hands each notice to
// the configured Notifier. One bad notice never stalls the queue.
type NotifyWorker struct {
	notifier service.Notifier
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewNotifyWorker creates a new NotifyWorker.
func NewNotifyWorker(notifier service.Notifier, rdb *redis.Client, log zerolog.Logger) *NotifyWorker {
	return &NotifyWorker{
		notifier: notifier,
		rdb:      rdb,
		log:      log.With().Str("component", "notify_worker").Logger(),
	}
}

// Start runs the dispatch loop until ctx is cancelled.
func (w *NotifyWorker) Start(ctx context.Context) {
	w.log.Info().Msg("NotifyWorker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("NotifyWorker stopping")
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.NotifyResultsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var notice service.ResultNotice
		if err := json.Unmarshal([]byte(result[1]), &notice); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed result notice")
			continue
		}

		if err := w.notifier.Notify(ctx, notice); err != nil {
			w.log.Error().Err(err).
				Str("attempt_id", notice.AttemptID.String()).
				Msg("Notify failed, requeueing")
			w.rdb.RPush(ctx, config.WorkerKey.NotifyResultsQueue, result[1])
			time.Sleep(5 * time.Second)
		}
	}
}
