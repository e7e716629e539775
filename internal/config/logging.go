package config

import (
	"io"
	"log/slog"
)

// SlogLevel maps a configured level onto slog.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger described by the logging section.
func (m MonitoringLogging) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: m.Level.SlogLevel()}
	if m.Format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
