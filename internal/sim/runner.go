// internal/sim/runner.go
package sim

import (
	"context"
	"time"
)

// Run starts the ticker loop and emits a Cycle per tick on out (if non-nil).
// One goroutine per executor. No overlap: a tick parked on a breakpoint
// delays the following ones.
func (e *Executor) Run(ctx context.Context, out chan<- Cycle) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c := e.TickOnce(ctx)
			if out == nil {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}
}
