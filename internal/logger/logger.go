// Package logger wraps zerolog behind the small level-gated surface the
// rest of IronBase calls through (Debug/Info/Warn/Error), the same shape
// docdb used with a hand-rolled formatter — backed here by
// a real structured logger instead of fmt.Sprintf-and-print.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is a component-scoped structured logger.
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger writing to out at the given level, tagging every
// line with component=prefix.
func New(out io.Writer, level Level, component string) *Logger {
	zl := zerolog.New(out).With().Timestamp().Str("component", component).Logger().Level(level.zerolog())
	return &Logger{zl: zl}
}

// Default returns the package-wide default logger (stderr, info level).
func Default() *Logger {
	return New(os.Stderr, LevelInfo, "ironbase")
}

// With returns a child logger carrying an additional structured field,
// e.g. log.With("db", path) or log.With("tx", txID).
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *Logger) SetLevel(level Level) {
	l.zl = l.zl.Level(level.zerolog())
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}
