// Package logging provides nil-safe slog helpers shared across Vellum's
// stores and pipelines.
package logging

import (
	"io"
	"log/slog"
	"os"
)

var noop = slog.New(slog.NewTextHandler(io.Discard, nil))

// Noop returns a logger that discards all output.
func Noop() *slog.Logger { return noop }

// NoopIfNil returns l when non-nil, otherwise a discard logger. Intended as
// the first line in constructors that accept a *slog.Logger.
func NoopIfNil(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return noop
}

// NewBootstrap builds the root JSON logger used before the preferences file
// has been loaded (the level is fixed at info; components reconfigure their
// own loggers once config is available).
func NewBootstrap() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// LevelFromString maps a config-file log level name to a slog.Level. Unknown
// names fall back to Info.
func LevelFromString(s string) slog.Level {
	switch s {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
