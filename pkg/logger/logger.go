package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents logger output format.
type Format string

const (
	// FormatJSON outputs structured logs for production log aggregation systems.
	FormatJSON Format = "json"
	// FormatText outputs human-readable logs for development debugging.
	FormatText Format = "text"
)

type Config struct {
	Level   string `env:"LOG_LEVEL" envDefault:"info"`      // Level is the minimum level to emit: debug, info, warn or error.
	Format  Format `env:"LOG_FORMAT" envDefault:"json"`     // Format is the output format, "json" or "text".
	Service string `env:"LOG_SERVICE" envDefault:"billing"` // Service is attached to every record as the "service" attribute.
}

// New creates a configured slog.Logger writing to w.
// Panics on an invalid format to enforce fail-fast initialization - a
// misconfigured logger should prevent startup rather than silently drop logs.
func New(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(w, opts)
	case FormatJSON, "":
		handler = slog.NewJSONHandler(w, opts)
	default:
		panic(fmt.Errorf("invalid log format %q: must be %q or %q", cfg.Format, FormatJSON, FormatText))
	}

	log := slog.New(handler)
	if cfg.Service != "" {
		log = log.With(slog.String("service", cfg.Service))
	}
	return log
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
