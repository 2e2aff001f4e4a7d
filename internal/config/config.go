// Package config handles configuration loading, validation, and hot
// reload for numpadhookd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Hook configuration for the interceptor lifecycle.
	Hook HookConfig `toml:"hook" json:"hook" yaml:"hook"`

	// Watchdog configuration for controller supervision.
	Watchdog WatchdogConfig `toml:"watchdog" json:"watchdog" yaml:"watchdog"`

	// Filter configuration for suppression behavior.
	Filter FilterConfig `toml:"filter" json:"filter" yaml:"filter"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// HookConfig tunes the interceptor lifecycle.
type HookConfig struct {
	// LivenessIntervalMs is how often the running flag is checked
	// while the hook is installed.
	LivenessIntervalMs int `toml:"liveness_interval_ms" json:"liveness_interval_ms" yaml:"liveness_interval_ms"`

	// StopTimeoutMs bounds the wait for the dispatch thread on
	// shutdown before it is abandoned.
	StopTimeoutMs int `toml:"stop_timeout_ms" json:"stop_timeout_ms" yaml:"stop_timeout_ms"`
}

// WatchdogConfig tunes controller supervision.
type WatchdogConfig struct {
	// PollIntervalMs paces the running-flag check and the bounded
	// parent-process wait.
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// FilterConfig holds suppression settings.
type FilterConfig struct {
	// Passthrough disables suppression entirely when true. Applied to
	// the live channel on config reload.
	Passthrough bool `toml:"passthrough" json:"passthrough" yaml:"passthrough"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the output format: text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is where logs go: stdout, stderr, or file.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output is "file". Empty
	// selects the platform default under the daemon directory.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Hook: HookConfig{
			LivenessIntervalMs: 200,
			StopTimeoutMs:      2000,
		},
		Watchdog: WatchdogConfig{
			PollIntervalMs: 100,
		},
		Filter: FilterConfig{
			Passthrough: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.Hook.LivenessIntervalMs <= 0 {
		return fmt.Errorf("hook.liveness_interval_ms must be positive, got %d", c.Hook.LivenessIntervalMs)
	}
	if c.Hook.StopTimeoutMs <= 0 {
		return fmt.Errorf("hook.stop_timeout_ms must be positive, got %d", c.Hook.StopTimeoutMs)
	}
	if c.Watchdog.PollIntervalMs <= 0 {
		return fmt.Errorf("watchdog.poll_interval_ms must be positive, got %d", c.Watchdog.PollIntervalMs)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("logging.output must be stdout, stderr, or file, got %q", c.Logging.Output)
	}
	return nil
}

// LivenessInterval returns the hook liveness interval as a duration.
func (c *Config) LivenessInterval() time.Duration {
	return time.Duration(c.Hook.LivenessIntervalMs) * time.Millisecond
}

// StopTimeout returns the dispatch-thread shutdown bound as a duration.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Hook.StopTimeoutMs) * time.Millisecond
}

// WatchdogInterval returns the watchdog poll interval as a duration.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Watchdog.PollIntervalMs) * time.Millisecond
}

// Dir returns the per-user daemon directory.
func Dir() string {
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = os.Getenv("APPDATA")
		}
		return filepath.Join(base, "numpadhookd")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "numpadhookd")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "numpadhookd")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "numpadhookd")
	}
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// DefaultLogPath returns the default log file location.
func DefaultLogPath() string {
	return filepath.Join(Dir(), "numpadhookd.log")
}
