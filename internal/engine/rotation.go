package engine

import (
	"context"
	"log/slog"
	"time"
)

// Rotator seals active segments that outgrow their age limit. Size
// rotation happens inline on append; this loop covers scopes that went
// idle before filling up.
type Rotator struct {
	store    *Store
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
}

func NewRotator(store *Store, maxAge, interval time.Duration, logger *slog.Logger) *Rotator {
	if logger == nil {
		logger = store.logger
	}
	return &Rotator{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger.With("component", "rotator"),
	}
}

// Run executes rotation passes on a ticker until the context is done.
func (r *Rotator) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("rotation loop started", "max_age", r.maxAge, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.RotateIdleOnce(); err != nil {
				r.logger.Error("rotation pass", "err", err)
			} else if n > 0 {
				r.logger.Info("aged segments sealed", "count", n)
			}
		}
	}
}

// RotateIdleOnce seals every active segment older than the age limit.
func (r *Rotator) RotateIdleOnce() (int, error) {
	return r.store.SealAged(r.maxAge)
}
