package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"thermowatch/internal/config"
)

// New returns a colourised handler for dev builds and a JSON handler otherwise.
func New(cfg *config.Config, version string, appName string) *slog.Logger {
	if version == "dev" || cfg.App.Env == "dev" {
		h := tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.App.LogLevel,
			AddSource:  cfg.App.Debug,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", appName)
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.App.Env,
	)
}
