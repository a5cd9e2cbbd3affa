package gate

// State tracks a single editable record through its save lifecycle.
type State int

const (
	// StateUninitialized: no data yet.
	StateUninitialized State = iota
	// StateHydrating: the mirror/remote merge is in progress; edits
	// update the UI but are not queued.
	StateHydrating
	// StateIdle: current content matches the last persisted signature.
	StateIdle
	// StatePendingSave: a debounce timer is running.
	StatePendingSave
	// StateSaving: a queue item for this record is being written.
	StateSaving
	// StateErrorBackoff: a failed or deferred attempt is awaiting
	// retry or sign-in.
	StateErrorBackoff
	// StateAbandoned: the retry budget for the last item is spent.
	// Terminal for that item only; new edits start fresh cycles.
	StateAbandoned
	// StateUnsaved: the debounced edit was examined and deliberately
	// not persisted (below the minimum content size). At rest until
	// the next edit or a manual save.
	StateUnsaved
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateHydrating:
		return "Hydrating"
	case StateIdle:
		return "Idle"
	case StatePendingSave:
		return "PendingSave"
	case StateSaving:
		return "Saving"
	case StateErrorBackoff:
		return "ErrorBackoff"
	case StateAbandoned:
		return "Abandoned"
	case StateUnsaved:
		return "Unsaved"
	default:
		return "InvalidState"
	}
}

func (s State) canTransitionTo(next State) bool {
	switch s {
	case StateUninitialized:
		return next == StateHydrating
	case StateHydrating:
		// Hydration may complete into a pending save when the user
		// typed while it ran.
		return next == StateIdle || next == StatePendingSave
	case StateIdle:
		// Idle → Saving happens on a manual save with no debounce
		// armed.
		return next == StatePendingSave || next == StateSaving
	case StatePendingSave:
		return next == StateSaving || next == StatePendingSave ||
			next == StateIdle || next == StateUnsaved
	case StateSaving:
		// Saving → Abandoned when the retry budget is spent while the
		// last attempt was in flight.
		return next == StateIdle || next == StateErrorBackoff ||
			next == StatePendingSave || next == StateAbandoned
	case StateErrorBackoff:
		return next == StateSaving || next == StatePendingSave || next == StateAbandoned
	case StateAbandoned:
		return next == StatePendingSave || next == StateSaving
	case StateUnsaved:
		// A new edit re-enters the debounce; a manual save writes the
		// small content directly.
		return next == StatePendingSave || next == StateSaving
	default:
		return false
	}
}
