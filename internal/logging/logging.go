package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps LOG_LEVEL spellings to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs a text logger on stderr as the default and returns it.
func Init(level string) *slog.Logger {
	return InitWriter(os.Stderr, level)
}

func InitWriter(w io.Writer, level string) *slog.Logger {
	logger := slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: ParseLevel(level),
		}),
	)
	slog.SetDefault(logger)
	return logger
}
