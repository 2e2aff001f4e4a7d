//go:build !windows

package watchdog

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// unixParent polls liveness with signal 0. There is no waitable handle
// for an unrelated process here, so the bounded wait is a sleep followed
// by a probe.
type unixParent struct {
	proc *os.Process
}

func openParent(pid int) (parentProcess, error) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return nil, fmt.Errorf("probe process %d: %w", pid, err)
	}
	return &unixParent{proc: proc}, nil
}

func (p *unixParent) terminated(timeout time.Duration) (bool, error) {
	time.Sleep(timeout)
	return p.proc.Signal(syscall.Signal(0)) != nil, nil
}

func (p *unixParent) close() error {
	return p.proc.Release()
}
