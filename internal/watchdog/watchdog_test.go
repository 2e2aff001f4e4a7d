package watchdog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"numpadhookd/internal/hook"
	"numpadhookd/internal/shm"
)

// fakeLifecycle stands in for the hook interceptor.
type fakeLifecycle struct {
	mu       sync.Mutex
	ch       *shm.Channel
	startErr error
	stopErr  error
	stops    int
}

func (f *fakeLifecycle) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = shm.NewInProcess()
	return nil
}

func (f *fakeLifecycle) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.ch = nil
	return f.stopErr
}

func (f *fakeLifecycle) Channel() *shm.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch
}

// fakeParent reports termination once the flag is set.
type fakeParent struct {
	mu     sync.Mutex
	dead   bool
	closed bool
}

func (p *fakeParent) terminated(timeout time.Duration) (bool, error) {
	time.Sleep(timeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dead, nil
}

func (p *fakeParent) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeParent) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = true
}

func testOptions() Options {
	return Options{PollInterval: 5 * time.Millisecond}
}

// runWith executes the supervision loop against a pre-opened parent,
// bypassing openParent, and stops the lifecycle like Run does.
func runWith(ctx context.Context, lc Lifecycle, parent parentProcess, opts Options) error {
	opts.applyDefaults()
	if err := lc.Start(ctx); err != nil {
		return err
	}
	supervise(ctx, lc, parent, opts)
	return lc.Stop()
}

func TestRunStopsOnRunningFlag(t *testing.T) {
	lc := &fakeLifecycle{}

	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), lc, 0, testOptions()) }()

	require.Eventually(t, func() bool { return lc.Channel() != nil },
		time.Second, time.Millisecond)
	lc.Channel().RequestStop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not exit after running flag cleared")
	}
	assert.Equal(t, 1, lc.stops)
}

func TestRunStopsOnParentDeath(t *testing.T) {
	lc := &fakeLifecycle{}
	parent := &fakeParent{}

	done := make(chan error, 1)
	go func() { done <- runWith(context.Background(), lc, parent, testOptions()) }()

	require.Eventually(t, func() bool { return lc.Channel() != nil },
		time.Second, time.Millisecond)

	// The controller dies without ever touching the running flag.
	parent.kill()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not exit after parent terminated")
	}
	assert.Equal(t, 1, lc.stops, "lifecycle must be stopped even without a stop request")
}

func TestRunStartFailure(t *testing.T) {
	lc := &fakeLifecycle{startErr: hook.ErrHookRegistration}

	err := Run(context.Background(), lc, 0, testOptions())
	require.ErrorIs(t, err, hook.ErrHookRegistration)
	assert.Equal(t, 0, lc.stops, "no teardown when nothing started")
}

func TestRunContextCancel(t *testing.T) {
	lc := &fakeLifecycle{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Run(ctx, lc, 0, testOptions()) }()

	require.Eventually(t, func() bool { return lc.Channel() != nil },
		time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not exit on context cancellation")
	}
}

func TestRunDrainTimeoutIsNonFatal(t *testing.T) {
	lc := &fakeLifecycle{stopErr: hook.ErrDrainTimeout}

	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), lc, 0, testOptions()) }()

	require.Eventually(t, func() bool { return lc.Channel() != nil },
		time.Second, time.Millisecond)
	lc.Channel().RequestStop()

	err := <-done
	assert.NoError(t, err, "a drain timeout is a warning, not a failure")
}

func TestRunPropagatesStopError(t *testing.T) {
	stopErr := errors.New("unmap failed")
	lc := &fakeLifecycle{stopErr: stopErr}

	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), lc, 0, testOptions()) }()

	require.Eventually(t, func() bool { return lc.Channel() != nil },
		time.Second, time.Millisecond)
	lc.Channel().RequestStop()

	require.ErrorIs(t, <-done, stopErr)
}
