package engine

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Supervisor tracks background sync tasks started from the HTTP layer so
// shutdown can wait for them instead of abandoning half-written passes.
type Supervisor struct {
	group *errgroup.Group
	ctx   context.Context
}

// NewSupervisor derives a supervised context; tasks observe cancellation
// of the parent. limit bounds concurrent tasks, <= 0 means unbounded.
func NewSupervisor(ctx context.Context, limit int) *Supervisor {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	return &Supervisor{group: g, ctx: gctx}
}

// Go launches fn in the background. Failures are logged under name and
// never cancel sibling tasks.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.group.Go(func() error {
		if err := fn(s.ctx); err != nil {
			slog.Error("background task failed", "task", name, "err", err)
		}
		return nil
	})
}

// Wait blocks until every launched task has returned.
func (s *Supervisor) Wait() {
	_ = s.group.Wait()
}
