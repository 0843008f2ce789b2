// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New builds a logger writing to out. format is "pretty" (colorized, for a
// terminal) or "json".
func New(out io.Writer, format, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "pretty":
		h = tint.NewHandler(out, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		})
	case "json":
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("unknown log format: %s (valid: pretty, json)", format)
	}
	return slog.New(h), nil
}

// ParseLevel maps debug/info/warn/error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}
