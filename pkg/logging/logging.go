// Package logging configures colored structured logging with tint.
//
// Usage:
//
//	level, err := logging.ParseLevel("debug")
//	logger := logging.Setup(level)   // also installed as slog.Default
//
// Environment variables:
//
//	NO_COLOR: disables colors when set to any value
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup builds a logger writing to stderr at the given level and installs it
// as the slog default.
func Setup(level slog.Level) *slog.Logger {
	_, noColor := os.LookupEnv("NO_COLOR")
	logger := New(os.Stderr, level, noColor)
	slog.SetDefault(logger)
	return logger
}

// New builds a tint logger on w. Debug loggers also report the source line.
func New(w io.Writer, level slog.Level, noColor bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		AddSource:  level <= slog.LevelDebug,
		NoColor:    noColor,
	}))
}

// ParseLevel maps debug, info, warn and error (case-insensitive) to a level.
// An empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
