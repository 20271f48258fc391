// Package obslog configures the process-wide zerolog logger and exposes a
// helper for attaching component scope to it.
package obslog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets up the global zerolog logger: console-pretty in development,
// JSON in production, matching the pack's convention of a single
// process-wide logger configured once at startup.
func Init(level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// Component returns a child logger tagged with the owning component, so log
// lines can be filtered by pipeline stage (e.g. "chunker", "ingest").
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
