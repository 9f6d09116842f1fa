// Package logging builds the zerolog.Logger used throughout the pipeline.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console-writer output for local development
}

// New builds a zerolog.Logger from cfg. Unknown levels fall back to info.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out zerolog.ConsoleWriter
	writer := os.Stdout

	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
