// numpadctl is the control CLI for numpadhookd. It attaches to the
// interceptor's shared-memory channel as the consumer and exposes the
// channel protocol from the command line: draining recorded key events,
// toggling passthrough, reading the debug counters, and requesting
// shutdown.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"numpadhookd/internal/filter"
	"numpadhookd/internal/shm"
)

var (
	jsonOut  = flag.Bool("json", false, "print status as JSON")
	follow   = flag.Bool("follow", false, "keep draining events until interrupted")
	interval = flag.Int("interval", 16, "event poll interval in milliseconds")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	switch cmd := flag.Arg(0); cmd {
	case "status":
		cmdStatus()
	case "events":
		cmdEvents()
	case "passthrough":
		if flag.NArg() < 2 || (flag.Arg(1) != "on" && flag.Arg(1) != "off") {
			fmt.Fprintln(os.Stderr, "Usage: numpadctl passthrough on|off")
			os.Exit(1)
		}
		cmdPassthrough(flag.Arg(1) == "on")
	case "numlock":
		cmdNumLock()
	case "stop":
		cmdStop()
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `numpadctl - control the numpad hook daemon

Usage:
  numpadctl [-json] status        Show hook health, flags, and counters
  numpadctl [-follow] [-interval ms] events
                                  Drain recorded key events
  numpadctl passthrough on|off    Toggle the suppression override
  numpadctl numlock               Show the interpreted NumLock state
  numpadctl stop                  Ask the interceptor to shut down
`)
}

// attach opens the consumer side of the channel or exits with the
// protocol's meaning for an absent mapping.
func attach() *shm.Channel {
	ch, err := shm.Open()
	if err != nil {
		if errors.Is(err, shm.ErrChannelNotFound) {
			fmt.Fprintln(os.Stderr, "interceptor not running")
		} else {
			fmt.Fprintf(os.Stderr, "attach to channel: %v\n", err)
		}
		os.Exit(1)
	}
	return ch
}

type status struct {
	HookHealthy bool  `json:"hook_healthy"`
	Running     bool  `json:"running"`
	NumLockOff  bool  `json:"numlock_off"`
	Passthrough bool  `json:"passthrough"`
	KeyEvents   int32 `json:"key_events"`
	NumpadSeen  int32 `json:"numpad_seen"`
	Suppressed  int32 `json:"suppressed"`
}

func cmdStatus() {
	ch := attach()
	defer ch.Close()

	c := ch.Counters()
	s := status{
		HookHealthy: c.HookHealthy,
		Running:     ch.Running(),
		NumLockOff:  ch.NumLockOff(),
		Passthrough: ch.PassthroughEnabled(),
		KeyEvents:   c.KeyEvents,
		NumpadSeen:  c.NumpadSeen,
		Suppressed:  c.Suppressed,
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(s, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Printf("hook healthy:  %v\n", s.HookHealthy)
	fmt.Printf("running:       %v\n", s.Running)
	fmt.Printf("numlock:       %s\n", onOff(!s.NumLockOff))
	fmt.Printf("passthrough:   %s\n", onOff(s.Passthrough))
	fmt.Printf("key events:    %d\n", s.KeyEvents)
	fmt.Printf("numpad seen:   %d\n", s.NumpadSeen)
	fmt.Printf("suppressed:    %d\n", s.Suppressed)
}

func cmdEvents() {
	ch := attach()
	defer ch.Close()

	print := func(scan int32) {
		if row, col, ok := filter.NavPosition(uint32(scan)); ok {
			fmt.Printf("scan %d (grid %d,%d)\n", scan, row, col)
		} else if scan == filter.BackScan {
			fmt.Printf("scan %d (back)\n", scan)
		} else {
			fmt.Printf("scan %d\n", scan)
		}
	}

	if !*follow {
		if n := ch.Drain(print); n == 0 {
			fmt.Println("no queued events")
		}
		return
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	ticker := time.NewTicker(time.Duration(*interval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-interrupt:
			return
		case <-ticker.C:
			ch.Drain(print)
			if on, changed := ch.PollNumLockChange(); changed {
				fmt.Printf("numlock %s\n", onOff(on))
			}
		}
	}
}

func cmdPassthrough(enabled bool) {
	ch := attach()
	defer ch.Close()

	ch.SetPassthrough(enabled)
	fmt.Printf("passthrough %s\n", onOff(enabled))
}

func cmdNumLock() {
	ch := attach()
	defer ch.Close()

	fmt.Printf("numlock %s\n", onOff(!ch.NumLockOff()))
}

func cmdStop() {
	ch := attach()
	defer ch.Close()

	ch.RequestStop()
	fmt.Println("stop requested")
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
