package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// newLogger builds the process logger. format is console or json.
func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if s := strings.ToLower(strings.TrimSpace(level)); s != "" {
		parsed, err := zerolog.ParseLevel(s)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
		}
		lvl = parsed
	}
	out := w
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("log format %q (want console or json)", format)
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "zordd").Logger(), nil
}
