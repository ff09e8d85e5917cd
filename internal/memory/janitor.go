package memory

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// StartJanitor sweeps turns older than ttl when store needs explicit
// pruning. It returns false when there is nothing to run.
func StartJanitor(ctx context.Context, store Store, interval, ttl time.Duration, logger zerolog.Logger) bool {
	pruner, ok := store.(Pruner)
	if !ok || ttl <= 0 {
		return false
	}
	if interval <= 0 {
		interval = time.Minute
	}
	logger = logger.With().Str("component", "memory_janitor").Logger()
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := pruner.PruneBefore(ctx, time.Now().UTC().Add(-ttl))
				if err != nil {
					logger.Warn().Err(err).Msg("memory prune failed")
					continue
				}
				if n > 0 {
					logger.Debug().Int("removed", n).Msg("pruned conversation turns")
				}
			}
		}
	}()
	return true
}
