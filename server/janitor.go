package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/intentgate/store"
)

// janitor deletes expired rows for drivers without native expiry.
type janitor struct {
	store    *store.Store
	interval time.Duration
	logger   *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newJanitor(s *store.Store, interval time.Duration, logger *slog.Logger) *janitor {
	return &janitor{store: s, interval: interval, logger: logger, done: make(chan struct{})}
}

func (j *janitor) start(ctx context.Context) {
	j.wg.Add(1)
	go j.run(ctx)
}

func (j *janitor) run(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *janitor) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.interval)
	defer cancel()

	removed, err := j.store.Sweep(ctx)
	if err != nil {
		j.logger.Warn("janitor: sweep failed", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Debug("janitor: removed expired keys", "count", removed)
	}
}

func (j *janitor) stop() {
	j.stopOnce.Do(func() { close(j.done) })
	j.wg.Wait()
}
