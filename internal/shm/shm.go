// Package shm implements the shared-memory channel between the numpad
// hook process (producer) and its controller (consumer).
//
// The channel is a fixed-layout block: a single-producer/single-consumer
// ring of suppressed scan codes, a one-slot NumLock mailbox, control
// flags, and debug counters. Every field has exactly one writer role;
// the ring indexes and the mailbox flag use atomic operations so the two
// processes never need an OS lock. The byte layout is the wire format:
// both sides map the same named region and read each other's fields at
// fixed offsets.
package shm

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// ChannelName is the well-known name of the shared region. Both sides
// must use it verbatim; at most one channel exists system-wide.
const ChannelName = `Local\NumpadHookChannel`

// RingCapacity is the event ring size. One slot is always kept free to
// distinguish full from empty, so the ring holds RingCapacity-1 events.
const RingCapacity = 256

// ChannelSize is the exact byte size of the shared region.
const ChannelSize = 1068

var (
	// ErrChannelExists is returned by Create when a channel with the
	// well-known name is already mapped somewhere in the system.
	ErrChannelExists = errors.New("shared channel already exists")

	// ErrChannelNotFound is returned by Open when no interceptor has
	// created the channel. Controllers treat this as "not running".
	ErrChannelNotFound = errors.New("shared channel not found")

	// ErrNotSupported is returned by Create and Open on platforms
	// without the named-mapping backend.
	ErrNotSupported = errors.New("shared channel not supported on this platform")
)

// sharedLayout is the on-wire structure. All fields are 4 bytes wide and
// 4-byte aligned, so the Go struct has no padding and matches the packed
// layout the consumer expects. Field order must never change.
type sharedLayout struct {
	evWrite atomic.Int32
	evRead  atomic.Int32
	events  [RingCapacity]int32

	nlChanged  atomic.Int32
	nlNewState atomic.Int32

	passthrough atomic.Int32
	numlockOff  atomic.Int32
	running     atomic.Int32

	anyKeyCount atomic.Int32
	suppressed  atomic.Int32
	numpadSeen  atomic.Int32
	hookOK      atomic.Int32
}

// Layout drift breaks the cross-process contract; fail the build instead.
var _ [ChannelSize]byte = [unsafe.Sizeof(sharedLayout{})]byte{}

// Channel is one side's view of the shared region. The same type serves
// both roles; which methods a process may call is a protocol convention,
// not a type distinction, exactly as on the wire.
type Channel struct {
	d       *sharedLayout
	release func() error
}

// NewInProcess returns a channel backed by ordinary memory instead of a
// named mapping. It carries the full protocol and is used by tests and
// by embedders that run producer and consumer in one process.
func NewInProcess() *Channel {
	ch := &Channel{d: new(sharedLayout)}
	ch.d.running.Store(1)
	return ch
}

// Close releases the underlying mapping. The channel must not be used
// afterwards. Closing an in-process channel is a no-op.
func (c *Channel) Close() error {
	if c.release == nil {
		return nil
	}
	release := c.release
	c.release = nil
	c.d = nil
	return release()
}

// ---- producer side ----------------------------------------------------

// Push appends a suppressed scan code to the ring. When the ring is full
// the event is dropped and Push reports false; it never overwrites
// unread data and never blocks. Only the hook process calls Push.
func (c *Channel) Push(scan int32) bool {
	w := c.d.evWrite.Load()
	next := (w + 1) % RingCapacity
	if next == c.d.evRead.Load() {
		return false
	}
	c.d.events[w] = scan
	c.d.evWrite.Store(next)
	return true
}

// NotifyNumLockChanged publishes a NumLock transition through the
// one-slot mailbox. A second call before the consumer polls overwrites
// the first; only the latest state matters.
func (c *Channel) NotifyNumLockChanged(on bool) {
	c.d.nlNewState.Store(b2i(on))
	c.d.nlChanged.Store(1)
}

// SetNumLockOff records the interpreted modifier state the filter reads.
func (c *Channel) SetNumLockOff(off bool) { c.d.numlockOff.Store(b2i(off)) }

// SetHookHealthy records whether the OS hook is currently installed.
func (c *Channel) SetHookHealthy(ok bool) { c.d.hookOK.Store(b2i(ok)) }

// SetRunning seeds the lifecycle flag. The producer sets it once at
// startup; afterwards only the consumer writes it (via RequestStop).
func (c *Channel) SetRunning(running bool) { c.d.running.Store(b2i(running)) }

// IncrKeyEvents counts every event the hook callback observed.
func (c *Channel) IncrKeyEvents() { c.d.anyKeyCount.Add(1) }

// IncrSuppressed counts suppressed-and-recorded key-down events.
func (c *Channel) IncrSuppressed() { c.d.suppressed.Add(1) }

// IncrNumpadSeen counts key-down events in the navigation cluster,
// suppressed or not.
func (c *Channel) IncrNumpadSeen() { c.d.numpadSeen.Add(1) }

// ---- consumer side ----------------------------------------------------

// Next removes the oldest recorded scan code from the ring. The second
// return is false when the ring is empty. Only the controller calls Next.
func (c *Channel) Next() (int32, bool) {
	r := c.d.evRead.Load()
	if r == c.d.evWrite.Load() {
		return 0, false
	}
	scan := c.d.events[r]
	c.d.evRead.Store((r + 1) % RingCapacity)
	return scan, true
}

// Drain calls fn for every queued scan code, at most one full ring's
// worth per call so a fast producer cannot pin the consumer in the loop.
func (c *Channel) Drain(fn func(scan int32)) int {
	n := 0
	for ; n < RingCapacity; n++ {
		scan, ok := c.Next()
		if !ok {
			break
		}
		fn(scan)
	}
	return n
}

// PollNumLockChange test-and-clears the mailbox. When changed is true,
// on holds the most recent NumLock state; intermediate transitions the
// consumer was too slow to see are lost.
func (c *Channel) PollNumLockChange() (on, changed bool) {
	if c.d.nlChanged.Swap(0) == 0 {
		return false, false
	}
	return c.d.nlNewState.Load() != 0, true
}

// SetPassthrough disables (true) or re-enables (false) suppression.
func (c *Channel) SetPassthrough(enabled bool) { c.d.passthrough.Store(b2i(enabled)) }

// RequestStop asks the hook process to shut down. This is the only
// consumer-to-producer lifecycle signal.
func (c *Channel) RequestStop() { c.d.running.Store(0) }

// ---- either side -------------------------------------------------------

// Running reports whether the controller still wants the hook alive.
func (c *Channel) Running() bool { return c.d.running.Load() != 0 }

// NumLockOff reports the interpreted modifier state.
func (c *Channel) NumLockOff() bool { return c.d.numlockOff.Load() != 0 }

// PassthroughEnabled reports the controller's suppression override.
func (c *Channel) PassthroughEnabled() bool { return c.d.passthrough.Load() != 0 }

// HookHealthy reports whether the OS hook is installed.
func (c *Channel) HookHealthy() bool { return c.d.hookOK.Load() != 0 }

// Counters is a point-in-time read of the debug counters. The fields
// are independent atomics, not a consistent snapshot.
type Counters struct {
	KeyEvents   int32
	Suppressed  int32
	NumpadSeen  int32
	HookHealthy bool
}

// Counters reads the debug counters.
func (c *Channel) Counters() Counters {
	return Counters{
		KeyEvents:   c.d.anyKeyCount.Load(),
		Suppressed:  c.d.suppressed.Load(),
		NumpadSeen:  c.d.numpadSeen.Load(),
		HookHealthy: c.d.hookOK.Load() != 0,
	}
}

func b2i(v bool) int32 {
	if v {
		return 1
	}
	return 0
}
