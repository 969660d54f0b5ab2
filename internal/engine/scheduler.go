package engine

import (
	"context"
	"log/slog"
	"time"
)

// Runner executes a single sync pass.
type Runner interface {
	RunOnce(context.Context) error
}

// RunOnce makes Engine satisfy Runner: one full pass over all datasets.
func (e *Engine) RunOnce(ctx context.Context) error {
	return e.SyncAll(ctx)
}

// Scheduler drives a Runner on a fixed interval until the context is
// cancelled.
type Scheduler struct {
	Runner   Runner
	Interval time.Duration
}

func (s *Scheduler) Run(ctx context.Context) {
	if s.Runner == nil || s.Interval <= 0 {
		return
	}

	// Run immediately at startup.
	if err := s.Runner.RunOnce(ctx); err != nil {
		slog.Error("initial sync failed", "err", err)
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Runner.RunOnce(ctx); err != nil {
				slog.Error("scheduled sync failed", "err", err)
			}
		}
	}
}
