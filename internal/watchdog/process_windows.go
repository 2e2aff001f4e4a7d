//go:build windows

package watchdog

import (
	"fmt"
	"time"

	"golang.org/x/sys/windows"
)

// windowsParent waits on a SYNCHRONIZE process handle. The per-call
// timeout keeps each wait bounded so the flag-based exit path is never
// starved.
type windowsParent struct {
	handle windows.Handle
}

func openParent(pid int) (parentProcess, error) {
	h, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	return &windowsParent{handle: h}, nil
}

func (p *windowsParent) terminated(timeout time.Duration) (bool, error) {
	event, err := windows.WaitForSingleObject(p.handle, uint32(timeout.Milliseconds()))
	switch event {
	case uint32(windows.WAIT_OBJECT_0):
		return true, nil
	case uint32(windows.WAIT_TIMEOUT):
		return false, nil
	default:
		return false, fmt.Errorf("wait for process: %w", err)
	}
}

func (p *windowsParent) close() error {
	return windows.CloseHandle(p.handle)
}
