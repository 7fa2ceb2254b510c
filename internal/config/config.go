package config

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Verbose enables debug output when true
var Verbose bool

// Log is the process logger. Libraries get it passed in through their
// options; only the CLI reads it directly.
var Log = zerolog.Nop()

// Debugf logs a debug message when Verbose is true
func Debugf(format string, args ...any) {
	if Verbose {
		Log.Debug().Msgf(format, args...)
	}
}

// SetupLogging builds the process logger and installs it as Log. Terminals
// get human readable output, everything else JSON lines.
func SetupLogging(verbose bool, w io.Writer) zerolog.Logger {
	Verbose = verbose
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	Log = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return Log
}
