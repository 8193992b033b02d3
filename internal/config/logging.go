package config

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a text logger at level (debug, info, warn or error),
// writing to stderr when w is nil.
func NewLogger(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
