// Package secfslog is a thin wrapper around log/slog, giving the client
// package one place to construct a leveled logger from a Config.LogLevel
// string instead of every call site parsing that string itself.
package secfslog

import (
	"io"
	"log/slog"
	"strings"
)

// New builds a slog.Logger writing text-formatted records to w at level.
// An unrecognized level falls back to info.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
