//go:build windows

package hook

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"numpadhookd/internal/filter"
	"numpadhookd/internal/shm"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procGetMessageW         = user32.NewProc("GetMessageW")
	procPostThreadMessageW  = user32.NewProc("PostThreadMessageW")
	procGetKeyState         = user32.NewProc("GetKeyState")
)

const (
	whKeyboardLL = 13

	wmKeyDown    = 0x0100
	wmKeyUp      = 0x0101
	wmSysKeyDown = 0x0104
	wmSysKeyUp   = 0x0105
	wmQuit       = 0x0012

	llkhfExtended = 0x01
	llkhfInjected = 0x10
)

// kbdllHookStruct mirrors KBDLLHOOKSTRUCT.
type kbdllHookStruct struct {
	vkCode      uint32
	scanCode    uint32
	flags       uint32
	time        uint32
	dwExtraInfo uintptr
}

// msg mirrors MSG; the fields beyond the first two are never inspected.
type msg struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	ptX     int32
	ptY     int32
}

// activeChannel is what the hook callback writes to. The lifecycle owns
// the channel; the pump publishes it here for the duration of the
// registration. A nil load degrades the callback to pass-through.
var activeChannel atomic.Pointer[shm.Channel]

// hookCallbackPtr wraps hookProc exactly once: syscall.NewCallback slots
// are process-lifetime and must not be minted per Start.
var hookCallbackPtr = sync.OnceValue(func() uintptr {
	return syscall.NewCallback(hookProc)
})

// hookProc is invoked by the OS for every low-level keyboard event,
// synchronously on the dispatch thread. It must return within the
// system hook timeout or Windows silently removes the hook, so the body
// is writes to the shared channel and nothing else: no allocation, no
// locks, no logging. Any internal fault degrades to pass-through.
func hookProc(nCode uintptr, wParam uintptr, lParam uintptr) uintptr {
	if int32(nCode) >= 0 {
		if ch := activeChannel.Load(); ch != nil {
			kb := (*kbdllHookStruct)(unsafe.Pointer(lParam))
			down := wParam == wmKeyDown || wParam == wmSysKeyDown
			up := wParam == wmKeyUp || wParam == wmSysKeyUp
			if down || up {
				ev := filter.Event{
					Scan:     kb.scanCode,
					Down:     down,
					Injected: kb.flags&llkhfInjected != 0,
					Extended: kb.flags&llkhfExtended != 0,
				}
				if handleEvent(ch, ev, kb.vkCode, platformNumLockOn) {
					return 1
				}
			}
		}
	}
	next, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
	return next
}

// platformNumLockOn reads the NumLock toggle bit from the OS.
func platformNumLockOn() bool {
	state, _, _ := procGetKeyState.Call(uintptr(filter.VKNumLock))
	return state&1 != 0
}

// messagePump owns the OS thread that services the hook. WH_KEYBOARD_LL
// requires its registering thread to keep pumping messages, or Windows
// deregisters the hook.
type messagePump struct {
	threadID atomic.Uint32
	done     chan struct{}
}

func newPlatformPump() pump {
	return &messagePump{}
}

func (p *messagePump) start(ch *shm.Channel) error {
	activeChannel.Store(ch)
	done := make(chan struct{})
	p.done = done
	installed := make(chan error, 1)

	go func() {
		// This done is captured, not read from p: an abandoned thread
		// from a previous cycle must not close a newer cycle's channel.
		runtime.LockOSThread()
		defer close(done)

		p.threadID.Store(windows.GetCurrentThreadId())

		hhook, _, callErr := procSetWindowsHookExW.Call(
			whKeyboardLL, hookCallbackPtr(), 0, 0)
		if hhook == 0 {
			installed <- fmt.Errorf("%w: %v", ErrHookRegistration, callErr)
			return
		}
		installed <- nil

		var m msg
		for {
			r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
			if int32(r) <= 0 {
				break
			}
			// No window ever receives these; draining the queue is all
			// the hook needs.
		}

		procUnhookWindowsHookEx.Call(hhook)
		// The channel may already be gone if stop abandoned this
		// thread; only touch it while it is still published.
		if activeChannel.Load() == ch {
			ch.SetHookHealthy(false)
		}
	}()

	if err := <-installed; err != nil {
		activeChannel.Store(nil)
		return err
	}
	return nil
}

func (p *messagePump) stop(timeout time.Duration) error {
	if tid := p.threadID.Load(); tid != 0 {
		procPostThreadMessageW.Call(uintptr(tid), wmQuit, 0, 0)
	}

	var timedOut bool
	select {
	case <-p.done:
	case <-time.After(timeout):
		// Abandon the thread; channel teardown must not hang the host.
		timedOut = true
	}

	activeChannel.Store(nil)
	p.threadID.Store(0)
	if timedOut {
		return ErrDrainTimeout
	}
	return nil
}
