// Package logging wraps log/slog so every component logs with the same
// handler, level and a "component" attribute.
//
//	logging.Init(slog.LevelInfo, false)
//	log := logging.Component("uploader")
//	log.Info("file sent", "remote", remote)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the process-wide logger set by Init.
var Logger *slog.Logger

// Init builds the global logger writing to stdout and makes it the slog default.
func Init(level slog.Level, jsonFormat bool) *slog.Logger {
	Logger = New(os.Stdout, level, jsonFormat)
	slog.SetDefault(Logger)
	return Logger
}

// New returns a logger writing to w without touching the global state.
func New(w io.Writer, level slog.Level, jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Component returns a logger tagged with the component name.
func Component(name string) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.With("component", name)
}

// Discard is a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps debug|info|warn|error to a slog level.
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
