package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const logFilePermission = 0o664

// ZeroLogger adapts a zerolog.Logger to the Logger interface.
type ZeroLogger struct {
	l zerolog.Logger
}

// New returns a ZeroLogger writing JSON lines to w with timestamps.
func New(w io.Writer) *ZeroLogger {
	return &ZeroLogger{l: zerolog.New(w).With().Timestamp().Logger()}
}

// NewFromPath returns a ZeroLogger appending to the file at path.
func NewFromPath(path string) (*ZeroLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFilePermission)
	if err != nil {
		return nil, err
	}
	return &ZeroLogger{l: zerolog.New(zerolog.SyncWriter(f)).With().Timestamp().Logger()}, nil
}

// Wrap adapts an existing zerolog.Logger.
func Wrap(l zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{l: l}
}

func (z *ZeroLogger) Debug(msg string, args ...any) { emit(z.l.Debug(), msg, args) }
func (z *ZeroLogger) Info(msg string, args ...any)  { emit(z.l.Info(), msg, args) }
func (z *ZeroLogger) Warn(msg string, args ...any)  { emit(z.l.Warn(), msg, args) }
func (z *ZeroLogger) Error(msg string, args ...any) { emit(z.l.Error(), msg, args) }

func emit(e *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}
