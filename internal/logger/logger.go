// Package logger builds the process-wide structured logger.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New creates a structured logger. Development gets readable console output,
// every other environment gets JSON lines.
func New(env, level string) zerolog.Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(env, "dev") {
		w = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	zl := newLogger(w, level)

	// Libraries that log through the global logger share the configuration.
	log.Logger = zl

	return zl
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
