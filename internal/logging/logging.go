// Package logging configures the process-wide zerolog logger every
// other component logs through via github.com/rs/zerolog/log.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup parses level (e.g. "debug", "info", "warn", "error"), falling
// back to info on an empty or unrecognized value, and installs a
// timestamped stderr logger as the global zerolog logger. pretty selects
// zerolog's human-readable console writer over newline-delimited JSON;
// the daemon uses JSON in production and pretty output when run from a
// terminal during development.
func Setup(level string, pretty bool) {
	zerolog.SetGlobalLevel(parseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339

	var out = os.Stderr
	logger := zerolog.New(out).With().Timestamp().Logger()
	if pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	log.Logger = logger
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
