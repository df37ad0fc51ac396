// Package logger builds the slog loggers used by the relay and the SDK
// internals, and provides the shared attribute helpers so flag keys and
// errors carry the same field names everywhere.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/bifrostlabs/bifrost/internal/config"
)

// New returns a logger writing to stdout, configured from the app section:
// level, text or JSON format, and the service identity attributes that
// appear on every line.
func New(cfg *config.AppConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with a caller-chosen destination. Tests point it at
// a bytes.Buffer to assert on output.
func NewWithWriter(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	if cfg == nil {
		panic("logger: config cannot be nil")
	}

	return slog.New(newHandler(cfg, w)).With(
		slog.String("service", cfg.Name),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Environment),
	)
}

func newHandler(cfg *config.AppConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
		// Source locations are left out in production; scrapers key on the
		// structured fields, and resolving the caller is not free.
		AddSource: cfg.Environment != config.EnvironmentProduction,
	}

	if cfg.LogFormat == "text" {
		return slog.NewTextHandler(w, opts)
	}
	// JSON for "json" and for anything unrecognized.
	return slog.NewJSONHandler(w, opts)
}

// parseLevel accepts any case of debug/info/warn/error, defaulting to info.
func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Err is the shared attribute for error values.
func Err(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// FlagKey is the shared attribute for feature flag keys.
func FlagKey(key string) slog.Attr {
	return slog.String("flag_key", key)
}
