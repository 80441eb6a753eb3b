// Package logger is the structured-logging facade used throughout the
// engine, built on top of zerolog.
package logger

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the small capability the engine needs from a logger. It is
// kept narrow (four levels, key/value pairs) so call sites stay terse
// without dragging zerolog's full builder API into every package.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
}

type zlog struct {
	l zerolog.Logger
}

// New builds a Logger writing to w (os.Stdout for the CLI) at the given
// level ("debug", "info", "warn", "error"; anything else falls back to
// "info"). Output is console-formatted, for development-friendly
// reading rather than raw JSON.
func New(w io.Writer, level string) Logger {
	l := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	l = l.Level(parseLevel(level))
	return &zlog{l: l}
}

// Discard builds a Logger that drops everything; used by callers that
// pass --no-log or run in tests.
func Discard() Logger {
	return &zlog{l: zerolog.New(io.Discard)}
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

func (z *zlog) Debug(msg string, kv ...any) { z.event(z.l.Debug(), kv).Msg(msg) }
func (z *zlog) Info(msg string, kv ...any)  { z.event(z.l.Info(), kv).Msg(msg) }
func (z *zlog) Warn(msg string, kv ...any)  { z.event(z.l.Warn(), kv).Msg(msg) }

func (z *zlog) Error(msg string, err error, kv ...any) {
	z.event(z.l.Error().Err(err), kv).Msg(msg)
}

func (z *zlog) event(ev *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	return ev
}
