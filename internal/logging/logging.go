package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs the default logger. level accepts the usual slog names plus
// the dev/production aliases; format is "text" or "json".
func Init(level, format string) *slog.Logger {
	logger := New(os.Stderr, level, format)
	slog.SetDefault(logger)
	return logger
}

func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func ParseLevel(l string) slog.Level {
	switch strings.ToLower(l) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return slog.LevelInfo
}
