package auth

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRefreshInterval is how often [Refresher] reloads the key set.
const DefaultRefreshInterval = 60 * time.Second

// Refresher periodically refreshes a [KeySetCache] so rotated keys are
// picked up before the first token that uses them arrives. Failures are
// logged and retried on the next tick; the previous key set stays active.
type Refresher struct {
	cache    *KeySetCache
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher returns a refresher. A non-positive interval selects
// [DefaultRefreshInterval]; a nil logger selects slog.Default().
func NewRefresher(cache *KeySetCache, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{cache: cache, interval: interval, logger: logger}
}

// Run blocks until ctx is done, refreshing once per interval. The first
// refresh happens one interval after Run is called; startup code performs
// its own initial refresh.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.DebugContext(ctx, "auth: key set refresher stopped")
			return
		case <-ticker.C:
			if err := r.cache.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "auth: periodic key set refresh failed",
					"error", err, "keys_retained", r.cache.Len())
			}
		}
	}
}

// Start runs the refresher in a goroutine and returns a function that
// stops it and waits for it to exit.
func (r *Refresher) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}
