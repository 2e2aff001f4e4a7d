// Package filter decides what happens to a raw keyboard event.
//
// The logic is pure: plain values in, an enumerated decision out. That
// keeps it callable from the hook callback, which runs inside the OS
// keyboard dispatch path and must not allocate, lock, or log.
package filter

// VKNumLock is the virtual-key code of the NumLock toggle.
const VKNumLock = 0x90

// BackScan is the navigation-cluster scan code the controller treats as
// its back action (numpad 0 / Ins position).
const BackScan = 82

// Event is a raw key event as delivered by the low-level hook.
type Event struct {
	// Scan is the hardware scan code.
	Scan uint32
	// Down is true for key-down, false for key-up.
	Down bool
	// Injected marks events synthesized by software (LLKHF_INJECTED).
	Injected bool
	// Extended marks extended-range scan codes (LLKHF_EXTENDED), i.e.
	// the dedicated navigation keys that share base codes with the
	// numeric pad.
	Extended bool
}

// Decision is the filter verdict for a single event.
type Decision int

const (
	// PassThrough forwards the event to the next handler in the chain.
	PassThrough Decision = iota
	// Suppress consumes the event without recording it.
	Suppress
	// SuppressAndRecord consumes the event and queues its scan code
	// for the controller. Only key-down transitions are recorded, so a
	// press/release pair counts once.
	SuppressAndRecord
)

func (d Decision) String() string {
	switch d {
	case PassThrough:
		return "pass-through"
	case Suppress:
		return "suppress"
	case SuppressAndRecord:
		return "suppress-and-record"
	default:
		return "unknown"
	}
}

// IsNavKey reports whether scan belongs to the numeric-pad navigation
// cluster: three contiguous rows (71-73, 75-77, 79-81) plus 82.
func IsNavKey(scan uint32) bool {
	return (scan >= 71 && scan <= 73) ||
		(scan >= 75 && scan <= 77) ||
		(scan >= 79 && scan <= 82)
}

// Decide applies the suppression rules to one event.
//
// Passthrough is the controller's unconditional override. Suppression
// targets only physical, non-extended events in the navigation cluster
// while NumLock is off: injected events come from other software, and
// extended scan codes are the dedicated navigation keys that must keep
// working. Key-downs are recorded; key-ups are consumed silently.
func Decide(ev Event, numLockOff, passthrough bool) Decision {
	if passthrough {
		return PassThrough
	}
	if !numLockOff || ev.Injected || ev.Extended || !IsNavKey(ev.Scan) {
		return PassThrough
	}
	if ev.Down {
		return SuppressAndRecord
	}
	return Suppress
}

// NavPosition maps a navigation-cluster scan code to its row and column
// on the 3x3 grid the controller renders. BackScan and codes outside
// the cluster report ok=false.
func NavPosition(scan uint32) (row, col int, ok bool) {
	switch {
	case scan >= 71 && scan <= 73:
		return 0, int(scan - 71), true
	case scan >= 75 && scan <= 77:
		return 1, int(scan - 75), true
	case scan >= 79 && scan <= 81:
		return 2, int(scan - 79), true
	default:
		return 0, 0, false
	}
}
