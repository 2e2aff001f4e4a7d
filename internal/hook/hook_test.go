package hook

import (
	"context"
	"log/slog"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"numpadhookd/internal/filter"
	"numpadhookd/internal/shm"
)

// simulatedPump replaces the OS message loop in lifecycle tests.
type simulatedPump struct {
	startErr error
	stopErr  error
	started  bool
	stops    int
}

func (p *simulatedPump) start(*shm.Channel) error {
	if p.startErr != nil {
		return p.startErr
	}
	p.started = true
	return nil
}

func (p *simulatedPump) stop(time.Duration) error {
	p.started = false
	p.stops++
	return p.stopErr
}

func newTestInterceptor(p *simulatedPump) (*Interceptor, *int) {
	channels := 0
	i := New(Options{
		LivenessInterval: 10 * time.Millisecond,
		StopTimeout:      50 * time.Millisecond,
		Logger:           slog.Default(),
	})
	i.pump = p
	i.newChannel = func() (*shm.Channel, error) {
		channels++
		return shm.NewInProcess(), nil
	}
	i.numLockOn = func() bool { return true }
	return i, &channels
}

// =============================================================================
// Lifecycle state machine
// =============================================================================

func TestStartStop(t *testing.T) {
	p := &simulatedPump{}
	i, _ := newTestInterceptor(p)

	require.NoError(t, i.Start(context.Background()))
	require.True(t, i.Running())
	require.True(t, p.started)

	ch := i.Channel()
	require.NotNil(t, ch)
	assert.True(t, ch.HookHealthy())
	assert.True(t, ch.Running())

	require.NoError(t, i.Stop())
	assert.False(t, i.Running())
	assert.Nil(t, i.Channel())
	assert.False(t, p.started)
}

func TestStartIdempotent(t *testing.T) {
	i, channels := newTestInterceptor(&simulatedPump{})

	require.NoError(t, i.Start(context.Background()))
	require.NoError(t, i.Start(context.Background()))

	assert.Equal(t, 1, *channels, "second start must not allocate a second channel")
	require.NoError(t, i.Stop())
}

func TestStopIdempotent(t *testing.T) {
	p := &simulatedPump{}
	i, _ := newTestInterceptor(p)

	require.NoError(t, i.Stop(), "stop while idle is a no-op")

	require.NoError(t, i.Start(context.Background()))
	require.NoError(t, i.Stop())
	require.NoError(t, i.Stop())
	assert.Equal(t, 1, p.stops)
}

func TestStartChannelAllocationFailure(t *testing.T) {
	i, _ := newTestInterceptor(&simulatedPump{})
	i.newChannel = func() (*shm.Channel, error) { return nil, shm.ErrChannelExists }

	err := i.Start(context.Background())
	require.ErrorIs(t, err, shm.ErrChannelExists)
	assert.False(t, i.Running())
}

func TestStartHookRegistrationFailure(t *testing.T) {
	p := &simulatedPump{startErr: ErrHookRegistration}
	i, _ := newTestInterceptor(p)

	err := i.Start(context.Background())
	require.ErrorIs(t, err, ErrHookRegistration)
	assert.False(t, i.Running())
	assert.Nil(t, i.Channel())

	// Recoverable: a later start attempt proceeds from idle.
	p.startErr = nil
	require.NoError(t, i.Start(context.Background()))
	require.NoError(t, i.Stop())
}

func TestStopDrainTimeout(t *testing.T) {
	p := &simulatedPump{stopErr: ErrDrainTimeout}
	i, _ := newTestInterceptor(p)

	require.NoError(t, i.Start(context.Background()))

	err := i.Stop()
	require.ErrorIs(t, err, ErrDrainTimeout)
	// Cleanup ran regardless.
	assert.False(t, i.Running())
	assert.Nil(t, i.Channel())
}

func TestLivenessStopsOnRunningFlagCleared(t *testing.T) {
	i, _ := newTestInterceptor(&simulatedPump{})

	require.NoError(t, i.Start(context.Background()))
	i.Channel().RequestStop()

	require.Eventually(t, func() bool { return !i.Running() },
		time.Second, 5*time.Millisecond,
		"clearing the running flag should tear the hook down within one liveness interval")
}

func TestContextCancelStops(t *testing.T) {
	i, _ := newTestInterceptor(&simulatedPump{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, i.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !i.Running() },
		time.Second, 5*time.Millisecond)
}

func TestStartSeedsNumLockState(t *testing.T) {
	i, _ := newTestInterceptor(&simulatedPump{})
	i.numLockOn = func() bool { return false }
	i.opts.Passthrough = true

	require.NoError(t, i.Start(context.Background()))
	assert.True(t, i.Channel().NumLockOff())
	assert.True(t, i.Channel().PassthroughEnabled())
	require.NoError(t, i.Stop())
}

// =============================================================================
// Callback event handling
// =============================================================================

func TestHandleEventToggleThenSuppress(t *testing.T) {
	ch := shm.NewInProcess()
	ledOn := true // suppression inactive: NumLock is on

	// Physical NumLock key-down. The LED still reads the pre-toggle
	// state, so the interpreted state flips to off.
	consumed := handleEvent(ch,
		filter.Event{Scan: 69, Down: true}, filter.VKNumLock,
		func() bool { return ledOn })
	assert.False(t, consumed, "the toggle key itself is never suppressed")
	assert.True(t, ch.NumLockOff())

	on, changed := ch.PollNumLockChange()
	require.True(t, changed)
	assert.False(t, on)

	// Navigation key-down now gets suppressed and recorded.
	consumed = handleEvent(ch,
		filter.Event{Scan: 75, Down: true}, 0x24,
		func() bool { return ledOn })
	assert.True(t, consumed)

	scan, ok := ch.Next()
	require.True(t, ok)
	assert.Equal(t, int32(75), scan)

	c := ch.Counters()
	assert.Equal(t, int32(2), c.KeyEvents)
	assert.Equal(t, int32(1), c.Suppressed)
	assert.Equal(t, int32(1), c.NumpadSeen)
}

func TestHandleEventKeyUpConsumedNotRecorded(t *testing.T) {
	ch := shm.NewInProcess()
	ch.SetNumLockOff(true)

	consumed := handleEvent(ch,
		filter.Event{Scan: 75, Down: false}, 0x24,
		func() bool { return false })
	assert.True(t, consumed)

	_, ok := ch.Next()
	assert.False(t, ok, "key-up must not be recorded")
	assert.Equal(t, int32(0), ch.Counters().Suppressed)
}

func TestHandleEventPassthroughMidRun(t *testing.T) {
	ch := shm.NewInProcess()
	ch.SetNumLockOff(true)
	ch.SetPassthrough(true)

	consumed := handleEvent(ch,
		filter.Event{Scan: 75, Down: true}, 0x24,
		func() bool { return false })
	assert.False(t, consumed, "controller override wins over modifier state")

	_, ok := ch.Next()
	assert.False(t, ok)
	c := ch.Counters()
	assert.Equal(t, int32(0), c.Suppressed)
	assert.Equal(t, int32(1), c.NumpadSeen, "cluster counting is independent of suppression")
}

func TestHandleEventInjectedPasses(t *testing.T) {
	ch := shm.NewInProcess()
	ch.SetNumLockOff(true)

	consumed := handleEvent(ch,
		filter.Event{Scan: 75, Down: true, Injected: true}, 0x24,
		func() bool { return false })
	assert.False(t, consumed)
	assert.Equal(t, int32(1), ch.Counters().KeyEvents)
}

func TestHandleEventFullRingStillConsumes(t *testing.T) {
	ch := shm.NewInProcess()
	ch.SetNumLockOff(true)

	for i := 0; i < shm.RingCapacity-1; i++ {
		ch.Push(75)
	}

	consumed := handleEvent(ch,
		filter.Event{Scan: 76, Down: true}, 0x24,
		func() bool { return false })
	assert.True(t, consumed, "a full ring drops the record but the key stays suppressed")
	assert.Equal(t, int32(1), ch.Counters().Suppressed)
}

func TestPlatformStartUnsupported(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("real hook registration is not exercised in unit tests")
	}

	i := New(Options{})
	i.newChannel = func() (*shm.Channel, error) { return shm.NewInProcess(), nil }

	err := i.Start(context.Background())
	require.ErrorIs(t, err, ErrNotSupported)
	assert.False(t, i.Running())
}
