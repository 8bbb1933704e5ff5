// Package logging configures colored structured logging with tint.
//
// Usage:
//
//	logger := logging.New(os.Stderr, slog.LevelDebug)
//	slog.SetDefault(logger)
//
// Color is disabled automatically when NO_COLOR is set.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a tint-backed logger writing to w at level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		AddSource:  level <= slog.LevelDebug,
		NoColor:    os.Getenv("NO_COLOR") != "",
	}))
}

// Setup installs a stderr logger at level as the slog default and returns it.
func Setup(level slog.Level) *slog.Logger {
	logger := New(os.Stderr, level)
	slog.SetDefault(logger)
	return logger
}
