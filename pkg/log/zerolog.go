package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologAdapter is the production Logger.
type ZerologAdapter struct {
	zl zerolog.Logger
}

// New builds an adapter writing to w (stderr when nil). Format "json"
// writes zerolog JSON lines, anything else the console writer. An empty
// or unknown level means info.
func New(w io.Writer, level, format string) *ZerologAdapter {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return &ZerologAdapter{zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

func (z *ZerologAdapter) Debug(msg string, fields ...Field) { emit(z.zl.Debug(), msg, fields) }
func (z *ZerologAdapter) Info(msg string, fields ...Field) { emit(z.zl.Info(), msg, fields) }
func (z *ZerologAdapter) Warn(msg string, fields ...Field) { emit(z.zl.Warn(), msg, fields) }
func (z *ZerologAdapter) Error(msg string, fields ...Field) { emit(z.zl.Error(), msg, fields) }

func (z *ZerologAdapter) With(fields ...Field) Logger {
	ctx := z.zl.With()
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			ctx = ctx.Str(f.Key, v)
		case error:
			ctx = ctx.AnErr(f.Key, v)
		default:
			ctx = ctx.Interface(f.Key, v)
		}
	}
	return &ZerologAdapter{zl: ctx.Logger()}
}

func emit(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			ev.Str(f.Key, v)
		case int:
			ev.Int(f.Key, v)
		case int64:
			ev.Int64(f.Key, v)
		case uint64:
			ev.Uint64(f.Key, v)
		case bool:
			ev.Bool(f.Key, v)
		case time.Duration:
			ev.Dur(f.Key, v)
		case error:
			ev.AnErr(f.Key, v)
		case interface{ String() string }:
			ev.Str(f.Key, v.String())
		default:
			ev.Interface(f.Key, v)
		}
	}
	ev.Msg(msg)
}
