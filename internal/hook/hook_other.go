//go:build !windows

package hook

import (
	"time"

	"numpadhookd/internal/shm"
)

// unsupportedPump keeps the lifecycle compilable on platforms without a
// low-level keyboard hook. Start always fails; the state machine and
// channel plumbing are still exercised by tests via the simulated pump.
type unsupportedPump struct{}

func newPlatformPump() pump {
	return unsupportedPump{}
}

func (unsupportedPump) start(*shm.Channel) error {
	return ErrNotSupported
}

func (unsupportedPump) stop(time.Duration) error {
	return nil
}

func platformNumLockOn() bool {
	return true
}
