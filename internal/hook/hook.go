// Package hook owns the keyboard interceptor lifecycle: the shared
// channel, the OS hook, and the dispatch thread that keeps the hook
// serviced.
//
// The lifecycle is a small state machine (idle, starting, running,
// stopping). Start is all-or-nothing: either the channel, the hook, and
// the dispatch thread are all established, or everything acquired so far
// is released and an error comes back. While running, a liveness ticker
// watches the channel's running flag, the controller's only shutdown
// signal, and tears the hook down when it drops.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"numpadhookd/internal/filter"
	"numpadhookd/internal/shm"
)

var (
	// ErrHookRegistration is returned when the OS refuses to install
	// the low-level keyboard hook.
	ErrHookRegistration = errors.New("keyboard hook registration failed")

	// ErrDrainTimeout is returned by Stop when the dispatch thread did
	// not exit within the shutdown bound. The thread is abandoned and
	// cleanup proceeds anyway; callers log this as a warning.
	ErrDrainTimeout = errors.New("dispatch thread did not exit before timeout")

	// ErrNotSupported is returned by Start on platforms without a
	// keyboard hook backend.
	ErrNotSupported = errors.New("keyboard hook not supported on this platform")
)

// pump drives the platform message loop that services the hook. start
// returns once the hook is installed (or failed to install); stop
// requests exit and waits at most timeout for the loop to finish.
type pump interface {
	start(ch *shm.Channel) error
	stop(timeout time.Duration) error
}

type state int

const (
	stateIdle state = iota
	stateStarting
	stateRunning
	stateStopping
)

// Options configures an Interceptor. Zero values select the defaults.
type Options struct {
	// LivenessInterval is how often the running flag is checked while
	// the hook is installed.
	LivenessInterval time.Duration

	// StopTimeout bounds the wait for the dispatch thread on shutdown.
	StopTimeout time.Duration

	// Passthrough seeds the controller override flag at channel
	// creation, so a daemon configured as inert never suppresses a
	// single event.
	Passthrough bool

	// Logger receives lifecycle events. The hook callback itself never
	// logs.
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.LivenessInterval <= 0 {
		o.LivenessInterval = 200 * time.Millisecond
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "hook")
	}
}

// Interceptor manages one hook registration and its shared channel.
type Interceptor struct {
	mu    sync.Mutex
	state state
	ch    *shm.Channel
	quit  chan struct{}
	wg    sync.WaitGroup

	opts Options

	// Pluggable seams; platform defaults are installed by New and
	// replaced in tests.
	pump       pump
	newChannel func() (*shm.Channel, error)
	numLockOn  func() bool
}

// New creates an idle Interceptor with the platform hook backend.
func New(opts Options) *Interceptor {
	opts.applyDefaults()
	return &Interceptor{
		opts:       opts,
		pump:       newPlatformPump(),
		newChannel: shm.Create,
		numLockOn:  platformNumLockOn,
	}
}

// Start allocates the shared channel, installs the hook, and spins up
// the dispatch thread. Calling Start while already starting or running
// is a no-op returning nil. Cancelling ctx triggers the same teardown
// as a controller stop request.
func (i *Interceptor) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == stateStarting || i.state == stateRunning {
		return nil
	}
	i.state = stateStarting

	ch, err := i.newChannel()
	if err != nil {
		i.state = stateIdle
		return fmt.Errorf("allocate shared channel: %w", err)
	}
	ch.SetNumLockOff(!i.numLockOn())
	ch.SetPassthrough(i.opts.Passthrough)

	if err := i.pump.start(ch); err != nil {
		ch.SetHookHealthy(false)
		ch.Close()
		i.state = stateIdle
		return err
	}
	ch.SetHookHealthy(true)

	i.ch = ch
	i.quit = make(chan struct{})
	i.state = stateRunning

	i.wg.Add(1)
	go i.livenessLoop(ctx, ch, i.quit)

	i.opts.Logger.Info("keyboard hook installed",
		"channel", shm.ChannelName,
		"numlock_off", ch.NumLockOff(),
	)
	return nil
}

// livenessLoop polls the channel's running flag. Either the flag
// dropping or ctx cancellation initiates Stop; the quit channel is how
// Stop itself dismisses the loop.
func (i *Interceptor) livenessLoop(ctx context.Context, ch *shm.Channel, quit chan struct{}) {
	defer i.wg.Done()

	ticker := time.NewTicker(i.opts.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ctx.Done():
			go i.Stop()
			return
		case <-ticker.C:
			if !ch.Running() {
				i.opts.Logger.Info("controller cleared running flag")
				go i.Stop()
				return
			}
		}
	}
}

// Stop deregisters the hook, waits (bounded) for the dispatch thread,
// and releases the channel. Stopping an idle interceptor is a no-op
// returning nil. A drain timeout is reported as ErrDrainTimeout after
// cleanup has still run to completion.
func (i *Interceptor) Stop() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == stateIdle || i.state == stateStopping {
		return nil
	}
	i.state = stateStopping

	close(i.quit)
	i.wg.Wait()

	stopErr := i.pump.stop(i.opts.StopTimeout)

	i.ch.SetHookHealthy(false)
	if err := i.ch.Close(); err != nil {
		i.opts.Logger.Warn("releasing shared channel", "error", err)
	}
	i.ch = nil
	i.quit = nil
	i.state = stateIdle

	if stopErr != nil {
		return stopErr
	}
	i.opts.Logger.Info("keyboard hook removed")
	return nil
}

// Channel returns the live shared channel, or nil while idle. Embedders
// use it to apply controller-side settings such as passthrough.
func (i *Interceptor) Channel() *shm.Channel {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != stateRunning {
		return nil
	}
	return i.ch
}

// Running reports whether the hook is currently installed.
func (i *Interceptor) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state == stateRunning
}

// handleEvent is the body of the hook callback: counters, the NumLock
// mailbox, the filter decision, and the ring write. It reports whether
// the event was consumed. Everything here must stay allocation-free and
// non-blocking; it runs inside the OS keyboard dispatch path.
func handleEvent(ch *shm.Channel, ev filter.Event, vk uint32, numLockOn func() bool) bool {
	ch.IncrKeyEvents()

	if ev.Down && vk == filter.VKNumLock {
		// GetKeyState still reports the pre-toggle LED here, so the
		// new state is its inverse.
		willBeOn := !numLockOn()
		ch.SetNumLockOff(!willBeOn)
		ch.NotifyNumLockChanged(willBeOn)
	}

	if ev.Down && filter.IsNavKey(ev.Scan) {
		ch.IncrNumpadSeen()
	}

	switch filter.Decide(ev, ch.NumLockOff(), ch.PassthroughEnabled()) {
	case filter.SuppressAndRecord:
		ch.Push(int32(ev.Scan)) // full ring drops the event, never blocks
		ch.IncrSuppressed()
		return true
	case filter.Suppress:
		return true
	default:
		return false
	}
}
