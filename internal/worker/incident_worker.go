package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/veritest/veritest-backend/internal/config"
	"github.com/veritest/veritest-backend/internal/model"
	"github.com/veritest/veritest-backend/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// IncidentWorker drains the proctoring incident queue into PostgreSQL in
// batches. Students never wait on an incident row insert.
type IncidentWorker struct {
	attempts *repository.AttemptRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewIncidentWorker creates a new IncidentWorker.
func NewIncidentWorker(attempts *repository.AttemptRepository, rdb *redis.Client, log zerolog.Logger) *IncidentWorker {
	return &IncidentWorker{
		attempts: attempts,
		rdb:      rdb,
		log:      log.With().Str("component", "incident_worker").Logger(),
	}
}

// Start runs the drain loop until ctx is cancelled. The buffer flushes on
// size or age, whichever comes first; pending items flush on shutdown.
func (w *IncidentWorker) Start(ctx context.Context) {
	w.log.Info().Msg("IncidentWorker started")

	buffer := make([]model.Incident, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// BLPop blocks up to PollTimeout; returns immediately when data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistIncidentsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // queue empty, loop back to check the flush timer
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

		var incident model.Incident
		if err := json.Unmarshal([]byte(result[1]), &incident); err != nil {
			// Malformed JSON cannot be retried. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed incident")
			continue
		}

		buffer = append(buffer, incident)
	}
}

// flushSafe tries the bulk path, then row-by-row recovery with requeue.
func (w *IncidentWorker) flushSafe(ctx context.Context, batch []model.Incident) {
	if err := w.attempts.InsertIncidents(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *IncidentWorker) fallbackInsert(ctx context.Context, batch []model.Incident) {
	requeueList := make([]model.Incident, 0)

	for i := range batch {
		if err := w.attempts.InsertIncident(ctx, &batch[i]); err != nil {
			w.log.Error().Err(err).
				Str("attempt_id", batch[i].AttemptID.String()).
				Msg("Insert failed, requeueing")
			requeueList = append(requeueList, batch[i])
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *IncidentWorker) requeue(ctx context.Context, items []model.Incident) {
	pipe := w.rdb.Pipeline()
	for i := range items {
		data, _ := json.Marshal(items[i])
		pipe.RPush(ctx, config.WorkerKey.PersistIncidentsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue incidents. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed incidents back to Redis")
	// Avoid thrashing while the DB is down hard.
	time.Sleep(2 * time.Second)
}

func (w *IncidentWorker) shutdown(buffer []model.Incident) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
