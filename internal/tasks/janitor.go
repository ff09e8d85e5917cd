package tasks

import (
	"context"
	"time"
)

// StartRetentionJanitor periodically removes terminal tasks older than
// retention from the repository. A non-positive retention disables it.
func (m *Manager) StartRetentionJanitor(ctx context.Context, interval, retention time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.PruneHistory(ctx, retention); err != nil {
					m.logger.Warn().Err(err).Msg("task retention sweep failed")
				}
			}
		}
	}()
}

// PruneHistory deletes terminal tasks last updated more than retention ago.
func (m *Manager) PruneHistory(ctx context.Context, retention time.Duration) (int, error) {
	removed, err := m.repo.ClearOldTasks(ctx, m.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if len(removed) > 0 {
		m.Forget(removed...)
		m.logger.Info().Int("removed", len(removed)).Msg("pruned task history")
	}
	return len(removed), nil
}
