/*
Package logx wraps zerolog for the relay.

InitGlobalLogger picks console or JSON output from the environment. The
package-level helpers write key-value fields through the global logger, and
Component hands relay parts a tagged sub-logger of their own.
*/
package logx

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitGlobalLogger installs the global zerolog instance.
// Development logs at debug level to a console writer on stderr; everything else logs
// JSON at info level to stdout. Entries carry a Unix timestamp and the caller.
func InitGlobalLogger(isDevelopment bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var logger zerolog.Logger
	if isDevelopment {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(zerolog.DebugLevel)
	} else {
		logger = zerolog.New(os.Stdout).Level(zerolog.InfoLevel)
	}

	log.Logger = logger.With().Timestamp().Caller().Logger()
}

// Logger returns the global logger.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Component returns a child of the global logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// emit attaches fields to e and writes it, attributing the entry to the helper's caller.
// An odd-length field list cannot be paired up, so it is dropped with a warning.
func emit(e *zerolog.Event, level, msg string, fields []any) {
	if len(fields)%2 != 0 {
		Logger().Warn().
			Int("fields_count", len(fields)).
			Str("log_level", level).
			Msgf("logx call (%s) received odd number of fields: %v. Fields ignored.", level, fields)
		fields = nil
	}

	e.Fields(fields).CallerSkipFrame(2).Msg(msg)
}

// Info logs msg at info level.
func Info(msg string, fields ...any) {
	emit(Logger().Info(), "Info", msg, fields)
}

// Warn logs msg at warn level.
func Warn(msg string, fields ...any) {
	emit(Logger().Warn(), "Warn", msg, fields)
}

// Error logs msg and err at error level.
func Error(err error, msg string, fields ...any) {
	emit(Logger().Error().Err(err), "Error", msg, fields)
}

// Fatal logs msg and err, then exits the process.
func Fatal(err error, msg string, fields ...any) {
	emit(Logger().Fatal().Err(err), "Fatal", msg, fields)
}
