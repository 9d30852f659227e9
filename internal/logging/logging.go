// Package logging centralizes zerolog construction so every service
// component logs with a consistent "component" field, the convention
// used by the job queue, scheduler and compose deployer.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console-friendly logger scoped to component. Verbose
// raises the level to debug; otherwise info and above are logged.
func New(component string, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return base(os.Stderr, level).With().Str("component", component).Logger()
}

func base(w io.Writer, level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
