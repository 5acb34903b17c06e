package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Logger interface {
	Log(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(err error, format string, args ...interface{})
	With(key string, value interface{}) Logger
}

// logger prints every record tagged with the node's username.
type logger struct {
	zl zerolog.Logger
}

// NewLogger returns a human-readable logger writing to stderr.
func NewLogger(username string) Logger {
	return newLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, username, zerolog.InfoLevel)
}

// NewJSONLogger returns a logger writing JSON lines to w at the given level.
func NewJSONLogger(w io.Writer, username, level string) (Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(level); err != nil {
			return nil, fmt.Errorf("failed to parse log level %q: %w", level, err)
		}
	}
	return newLogger(w, username, lvl), nil
}

func NewNop() Logger {
	return &logger{zl: zerolog.Nop()}
}

func newLogger(w io.Writer, username string, level zerolog.Level) *logger {
	return &logger{
		zl: zerolog.New(w).Level(level).With().Timestamp().Str("username", username).Logger(),
	}
}

func (l *logger) Log(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *logger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *logger) Error(err error, format string, args ...interface{}) {
	l.zl.Error().Err(err).Msgf(format, args...)
}

func (l *logger) With(key string, value interface{}) Logger {
	return &logger{zl: l.zl.With().Interface(key, value).Logger()}
}
