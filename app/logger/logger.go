// Package logger builds the structured logger shared by the server.
//
// Output is JSON by default. The level is held in a process-wide
// slog.LevelVar so it can be changed while running.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is json or text.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

var globalLevel = new(slog.LevelVar)

func New(cfg Config) *slog.Logger {
	globalLevel.Set(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: globalLevel}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		h = slog.NewTextHandler(out, opts)
	default:
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(h)
}

// SetLevel changes the level of every logger returned by New.
func SetLevel(level string) {
	globalLevel.Set(ParseLevel(level))
}

func Level() slog.Level {
	return globalLevel.Level()
}

// ParseLevel falls back to info for unknown names.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
