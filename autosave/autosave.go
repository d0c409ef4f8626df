// Package autosave periodically checkpoints a running timer.
package autosave

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is the checkpoint period while the timer runs.
const DefaultInterval = 10 * time.Second

// Checkpointer writes a snapshot when there is something worth saving.
type Checkpointer interface {
	Checkpoint(ctx context.Context) (bool, error)
}

// Heartbeat drives a Checkpointer on a fixed interval.
type Heartbeat struct {
	target   Checkpointer
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger
}

// New creates a heartbeat. A non-positive interval means DefaultInterval.
func New(target Checkpointer, clock clockwork.Clock, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Heartbeat{
		target:   target,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Run ticks until ctx is done. Checkpoint failures are logged and the loop
// keeps going.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("Autosave started", "interval", h.interval.String())
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Autosave stopped")
			return nil
		case <-ticker.Chan():
			h.Tick(ctx)
		}
	}
}

// Tick runs a single checkpoint.
func (h *Heartbeat) Tick(ctx context.Context) {
	saved, err := h.target.Checkpoint(ctx)
	if err != nil {
		h.logger.Warn("Autosave failed", "error", err)
		return
	}
	if saved {
		h.logger.Debug("Autosave checkpoint written")
	}
}
