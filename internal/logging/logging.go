// Package logging sets up the process-wide slog default, exactly the
// pattern cmd/elida/main.go uses: a JSON handler over stdout with a
// configurable level.
package logging

import (
	"log/slog"
	"os"
)

// Setup builds a JSON slog.Logger at the given level ("debug", "info",
// "warn", "error") and installs it as the process default.
func Setup(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
