// Package tasks schedules best-effort background work.
//
// The runner executes each task at most once, with no retry. Failures are
// logged and swallowed; callers must not depend on completion. Cache
// population and usage accounting run here so the client-facing response is
// never blocked on them.
package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTaskTimeout bounds each task; the client response has already been
// sent by the time a task runs, so nothing waits on it.
const DefaultTaskTimeout = 30 * time.Second

// Runner executes deferred tasks in background goroutines.
type Runner struct {
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRunner creates a task runner. Pass timeout=0 to use DefaultTaskTimeout.
func NewRunner(logger *slog.Logger, timeout time.Duration) *Runner {
	if timeout == 0 {
		timeout = DefaultTaskTimeout
	}
	return &Runner{logger: logger, timeout: timeout}
}

// Go schedules fn to run in the background. The task gets its own context,
// detached from the request that scheduled it. Errors and panics are logged
// at debug level and dropped.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Warn("background task panicked", "task", name, "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			r.logger.Debug("background task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until all scheduled tasks have finished. Used in tests and
// during graceful shutdown; in-flight tasks may still be dropped if the
// process is reclaimed first.
func (r *Runner) Wait() {
	r.wg.Wait()
}
