// Package watchdog supervises the interceptor on behalf of a controller
// that lives in another process. It starts the hook lifecycle, then
// blocks until the controller clears the channel's running flag or the
// controller process itself dies, and always tears the hook down on the
// way out. That last step is the orphan-prevention guarantee: no process
// keeps a system-wide keyboard hook registered after its controller is
// gone, even when the controller crashed and never sent a shutdown.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"numpadhookd/internal/hook"
	"numpadhookd/internal/shm"
)

// Lifecycle is the part of the interceptor the watchdog drives.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
	Channel() *shm.Channel
}

// parentProcess waits on a controller process handle. Each wait is
// bounded so the running-flag exit path can always win.
type parentProcess interface {
	terminated(timeout time.Duration) (bool, error)
	close() error
}

// Options configures a supervision run. Zero values select defaults.
type Options struct {
	// PollInterval is the pace of both the running-flag check and the
	// bounded parent wait.
	PollInterval time.Duration

	// Logger receives supervision events.
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "watchdog")
	}
}

// Run starts the lifecycle and blocks until shutdown is requested
// through the channel, the parent process (when parentPID > 0) is
// detected as terminated, or ctx is cancelled. The lifecycle is stopped
// before Run returns, whichever exit path fires. A start failure is
// returned immediately without entering the loop.
func Run(ctx context.Context, lc Lifecycle, parentPID int, opts Options) error {
	opts.applyDefaults()

	if err := lc.Start(ctx); err != nil {
		return fmt.Errorf("start interceptor: %w", err)
	}

	var parent parentProcess
	if parentPID > 0 {
		p, err := openParent(parentPID)
		if err != nil {
			// Mirror a controller that is already gone: supervise on
			// the flag alone rather than refusing to run.
			opts.Logger.Warn("cannot watch parent process",
				"pid", parentPID, "error", err)
		} else {
			parent = p
			defer parent.close()
			opts.Logger.Info("watching parent process", "pid", parentPID)
		}
	}

	reason := supervise(ctx, lc, parent, opts)
	opts.Logger.Info("shutting down", "reason", reason)

	if err := lc.Stop(); err != nil {
		if errors.Is(err, hook.ErrDrainTimeout) {
			opts.Logger.Warn("dispatch thread abandoned", "error", err)
			return nil
		}
		return fmt.Errorf("stop interceptor: %w", err)
	}
	return nil
}

// supervise loops until an exit condition fires and names it.
func supervise(ctx context.Context, lc Lifecycle, parent parentProcess, opts Options) string {
	for {
		if ctx.Err() != nil {
			return "context cancelled"
		}

		ch := lc.Channel()
		if ch == nil {
			return "interceptor stopped"
		}
		if !ch.Running() {
			return "controller requested stop"
		}

		if parent != nil {
			dead, err := parent.terminated(opts.PollInterval)
			if err != nil {
				opts.Logger.Warn("parent wait failed, falling back to flag polling",
					"error", err)
				parent.close()
				parent = nil
				continue
			}
			if dead {
				return "parent process terminated"
			}
			// The bounded wait already paced this iteration.
			continue
		}

		select {
		case <-ctx.Done():
			return "context cancelled"
		case <-time.After(opts.PollInterval):
		}
	}
}
