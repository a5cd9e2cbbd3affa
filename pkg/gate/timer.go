package gate

import "time"

// Timer is the slice of time.Timer the gate needs: cancellation.
type Timer interface {
	Stop() bool
}

// TimerFactory schedules fn after d and returns a handle to cancel
// it. Tests substitute a manual implementation so debounce behavior
// is exercised without wall-clock sleeps.
type TimerFactory func(d time.Duration, fn func()) Timer

func defaultTimerFactory(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// ManualTimer is a hand-fired Timer for tests.
type ManualTimer struct {
	fn      func()
	stopped bool
}

// NewManualFactory returns a factory capturing every scheduled timer
// into out.
func NewManualFactory(out *[]*ManualTimer) TimerFactory {
	return func(d time.Duration, fn func()) Timer {
		t := &ManualTimer{fn: fn}
		*out = append(*out, t)
		return t
	}
}

// Fire runs the scheduled function unless the timer was stopped.
func (t *ManualTimer) Fire() {
	if !t.stopped {
		t.fn()
	}
}

// Stop implements Timer.
func (t *ManualTimer) Stop() bool {
	was := t.stopped
	t.stopped = true
	return !was
}

// Stopped reports whether Stop was called.
func (t *ManualTimer) Stopped() bool { return t.stopped }
