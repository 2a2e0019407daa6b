package draft

import (
	"context"
	"log/slog"
	"time"
)

// SweepInterval is how often overdue drafts are scanned for. One-shot
// timers handle the common case; the sweep catches drafts whose timers
// were lost to a process restart.
const SweepInterval = 30 * time.Second

// Sweeper periodically expires overdue PENDING drafts.
type Sweeper struct {
	service *Service

	// Interval may be adjusted before Run.
	Interval time.Duration
}

// NewSweeper creates a sweeper with the default interval.
func NewSweeper(service *Service) *Sweeper {
	return &Sweeper{service: service, Interval: SweepInterval}
}

// Run starts the sweep loop. Blocks until context is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	slog.Info("Draft sweeper started", "interval", w.Interval)
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Draft sweeper stopped")
			return ctx.Err()
		case t := <-ticker.C:
			w.sweep(t)
		}
	}
}

func (w *Sweeper) sweep(now time.Time) {
	overdue, err := w.service.store.ListOverdueDrafts(now, 100)
	if err != nil {
		slog.Error("Draft sweep query failed", "error", err)
		return
	}
	for _, d := range overdue {
		if err := w.service.Expire(d.ID); err != nil {
			slog.Error("Draft sweep expire failed", "draft", d.ID, "error", err)
		}
	}
	if len(overdue) > 0 {
		slog.Info("Draft sweep expired drafts", "count", len(overdue))
	}
}
