package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/veritest/veritest-backend/internal/service"
)

// SweepBatchSize caps how many expired attempts one tick finalizes.
const SweepBatchSize = 200

// SweeperWorker auto-submits in-progress attempts whose deadline has passed.
// Each finalize is status-guarded, so a manual submit racing a tick is safe:
// exactly one writer wins.
type SweeperWorker struct {
	attempts *service.AttemptService
	interval time.Duration
	log      zerolog.Logger
}

// NewSweeperWorker creates a new SweeperWorker.
func NewSweeperWorker(attempts *service.AttemptService, interval time.Duration, log zerolog.Logger) *SweeperWorker {
	return &SweeperWorker{
		attempts: attempts,
		interval: interval,
		log:      log.With().Str("component", "sweeper_worker").Logger(),
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *SweeperWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("SweeperWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("SweeperWorker stopping")
			return
		case <-ticker.C:
			swept, err := w.attempts.SweepExpired(ctx, SweepBatchSize)
			if err != nil {
				w.log.Error().Err(err).Msg("Sweep failed")
				continue
			}
			if swept > 0 {
				w.log.Info().Int("count", swept).Msg("Auto-submitted expired attempts")
			}
		}
	}
}
