// Package logger defines the leveled logging interface used across
// resourcesync and a zerolog-backed implementation of it.
package logger

// Logger accepts a message plus alternating key/value pairs, in the
// style of log/slog. Components treat a nil Logger as no-op via OrNop.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nop struct{}

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any)  {}
func (nop) Warn(string, ...any)  {}
func (nop) Error(string, ...any) {}

// Nop returns a logger that discards everything.
func Nop() Logger { return nop{} }

// OrNop returns l unless it is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
