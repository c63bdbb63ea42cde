// Package logger provides a small structured-logging facade used
// throughout the streaming core so call sites never depend on the
// concrete logging library.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the interface every component depends on.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})

	// With returns a child logger carrying an additional structured field,
	// e.g. log.With("session", id) for per-session log correlation.
	With(key string, value interface{}) Logger
}

// zerologLogger wraps a zerolog.Logger behind the Logger interface.
type zerologLogger struct {
	z zerolog.Logger
}

// New creates a new Logger at the given level ("debug", "info", "warn", "error").
func New(level string) Logger {
	lvl := parseLevel(level)
	z := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().Timestamp().Logger()
	return &zerologLogger{z: z}
}

// NewJSON creates a new Logger emitting structured JSON, suitable for
// production hosts that ingest logs rather than display them in a TTY.
func NewJSON(level string) Logger {
	lvl := parseLevel(level)
	z := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	return &zerologLogger{z: z}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zerologLogger) Debugf(format string, v ...interface{}) { l.z.Debug().Msgf(format, v...) }
func (l *zerologLogger) Infof(format string, v ...interface{})  { l.z.Info().Msgf(format, v...) }
func (l *zerologLogger) Warnf(format string, v ...interface{})  { l.z.Warn().Msgf(format, v...) }
func (l *zerologLogger) Errorf(format string, v ...interface{}) { l.z.Error().Msgf(format, v...) }

func (l *zerologLogger) With(key string, value interface{}) Logger {
	return &zerologLogger{z: l.z.With().Interface(key, value).Logger()}
}

// Nop returns a Logger that discards everything; useful in tests.
func Nop() Logger { return &zerologLogger{z: zerolog.Nop()} }
