package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New builds the application logger. format is "json" for production or
// "text" for colourised console output.
func New(w io.Writer, format, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch format {
	case "", "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	case "text":
		handler = tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(handler), nil
}

// ParseLevel parses debug, info, warn or error. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	if strings.TrimSpace(level) == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}
