// Package logging provides structured logging with slog for numpadhookd.
//
// The hook callback itself never logs; everything here serves the
// lifecycle, the watchdog, and the control CLI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"numpadhookd/internal/config"
)

// Level represents a logging level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger wraps slog.Logger with the owned output file, if any.
type Logger struct {
	*slog.Logger
	file *os.File
}

var (
	defaultLogger *Logger
	loggerOnce    sync.Once
)

// Default returns the global logger, creating a stderr text logger on
// first use.
func Default() *Logger {
	loggerOnce.Do(func() {
		defaultLogger, _ = New(config.LoggingConfig{
			Level: "info", Format: "text", Output: "stderr",
		}, "numpadhookd")
	})
	return defaultLogger
}

// SetDefault installs l as the global logger for this package and slog.
func SetDefault(l *Logger) {
	defaultLogger = l
	slog.SetDefault(l.Logger)
}

// New creates a Logger from the daemon logging configuration. component
// is attached to every record.
func New(cfg config.LoggingConfig, component string) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	l := &Logger{}

	var w io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		w = os.Stdout
	case "file":
		path := cfg.FilePath
		if path == "" {
			path = config.DefaultLogPath()
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		w = f
	default:
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	if component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", component)})
	}

	l.Logger = slog.New(handler)
	return l, nil
}

// WithComponent returns a logger tagged with a different component name.
func (l *Logger) WithComponent(name string) *slog.Logger {
	return l.Logger.With(slog.String("component", name))
}

// Close closes the log file when one is open.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// ParseLevel parses a string into a log level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}
