package async

import (
	"context"
	"time"
)

// Every runs fn every interval, in a panic-recovered goroutine, until
// ctx is cancelled. Used by the cache's expiry sweep, the agent
// registry's offline-marking sweep, the task queue's delayed-retry
// promotion tick, and the scheduler's dispatch loop.
func Every(ctx context.Context, interval time.Duration, logger PanicLogger, name string, fn func()) {
	Go(logger, name, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				func() {
					defer Recover(logger, name)
					fn()
				}()
			}
		}
	})
}
