package main

import (
	"log/slog"

	"github.com/kstaniek/go-pbx-teleporter/internal/logging"
)

// setupLogger installs the process logger and returns it with a closer for
// the optional rolling file.
func setupLogger(cfg *appConfig) (*slog.Logger, func() error) {
	var lvl slog.Level
	switch cfg.logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	w, closeFn := logging.Output(cfg.rotation())
	l := logging.New(cfg.logFormat, lvl, w).With("app", "pbx-teleporter")
	logging.Set(l)
	return l, closeFn
}
