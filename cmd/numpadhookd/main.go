// numpadhookd runs the system-wide numpad interceptor under watchdog
// supervision. It installs a low-level keyboard hook, relays suppressed
// navigation-cluster key presses to the controlling process through a
// named shared-memory channel, and exits when the controller clears the
// channel's running flag or, when started with -parent, when the
// controller process dies, so no hook ever outlives its controller.
//
// Usage:
//
//	numpadhookd [-config path] [-parent pid]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"numpadhookd/internal/config"
	"numpadhookd/internal/hook"
	"numpadhookd/internal/logging"
	"numpadhookd/internal/shm"
	"numpadhookd/internal/watchdog"
)

var (
	configPath = flag.String("config", config.Path(), "path to config file")
	parentPID  = flag.Int("parent", 0, "controller process id to watch; 0 disables parent supervision")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "numpadhookd: load config: %v\n", err)
		return 1
	}
	defer loader.Close()

	logger, err := logging.New(cfg.Logging, "numpadhookd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "numpadhookd: setup logging: %v\n", err)
		return 1
	}
	defer logger.Close()
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	interceptor := hook.New(hook.Options{
		LivenessInterval: cfg.LivenessInterval(),
		StopTimeout:      cfg.StopTimeout(),
		Passthrough:      cfg.Filter.Passthrough,
		Logger:           logger.WithComponent("hook"),
	})

	// The passthrough toggle is the one setting with live effect;
	// everything else needs a restart.
	loader.OnChange(func(c *config.Config) {
		if ch := interceptor.Channel(); ch != nil {
			ch.SetPassthrough(c.Filter.Passthrough)
			logger.Info("applied reloaded config", "passthrough", c.Filter.Passthrough)
		}
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config watching disabled", "error", err)
	}
	go func() {
		for err := range loader.Errors() {
			logger.Warn("config reload", "error", err)
		}
	}()

	go logCounters(ctx, interceptor, logger)

	err = watchdog.Run(ctx, interceptor, *parentPID, watchdog.Options{
		PollInterval: cfg.WatchdogInterval(),
		Logger:       logger.WithComponent("watchdog"),
	})
	if err != nil {
		if errors.Is(err, shm.ErrChannelExists) {
			logger.Error("another interceptor instance already owns the channel",
				"channel", shm.ChannelName)
		} else {
			logger.Error("interceptor failed", "error", err)
		}
		return 1
	}

	logger.Info("clean shutdown")
	return 0
}

// logCounters periodically surfaces the channel's debug counters, the
// same numbers the controller can read directly.
func logCounters(ctx context.Context, interceptor *hook.Interceptor, logger *logging.Logger) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ch := interceptor.Channel()
			if ch == nil {
				continue
			}
			c := ch.Counters()
			logger.Debug("hook counters",
				"hook_healthy", c.HookHealthy,
				"key_events", c.KeyEvents,
				"numpad_seen", c.NumpadSeen,
				"suppressed", c.Suppressed,
				"numlock_off", ch.NumLockOff(),
			)
		}
	}
}
