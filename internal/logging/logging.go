// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the given environment.
// Development gets a human-readable console writer at debug level;
// production writes JSON and only logs warnings and above unless level overrides it.
func Setup(level string, production bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if !production {
		out = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stdout
			w.TimeFormat = time.RFC3339
		})
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(ParseLevel(level, production))
}

// ParseLevel resolves a textual level, falling back to the environment default.
func ParseLevel(level string, production bool) zerolog.Level {
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			return l
		}
	}
	if production {
		return zerolog.WarnLevel
	}
	return zerolog.DebugLevel
}
