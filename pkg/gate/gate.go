// Package gate sits between the form layer's state setters and the
// persistence pipeline. It debounces rapid edits into one save,
// throttles runaway update loops, and keeps initialization writes
// from ever looking like user edits.
//
// All loop-breaking state (updates-in-window counter, hydration flag,
// pending timer) is owned by the Gate instance. Nothing here is
// package-level and mutable, so instances cannot interfere with each
// other and tests construct as many as they like.
package gate

import (
	"sync"
	"time"

	"github.com/venturetrail/resourcesync/pkg/content"
	"github.com/venturetrail/resourcesync/pkg/logger"
)

// SaveFunc receives the debounced snapshot to persist. It runs
// without the gate's lock held; manual is true only for explicit
// user saves.
type SaveFunc func(snapshot *content.Map, manual bool)

// Config tunes a Gate. Zero values select the defaults.
type Config struct {
	// DebounceWindow is how long after the last edit the save fires.
	// Default 800ms.
	DebounceWindow time.Duration

	// ThrottleWindow and MaxUpdatesInWindow form the loop breaker:
	// more than MaxUpdatesInWindow state changes inside one window
	// stop triggering saves (state still updates) until the window
	// resets. Defaults 2s and 8.
	ThrottleWindow     time.Duration
	MaxUpdatesInWindow int

	// Timers and Clock are injectable for tests.
	Timers TimerFactory
	Clock  func() time.Time
}

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 800 * time.Millisecond
	}
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = 2 * time.Second
	}
	if c.MaxUpdatesInWindow <= 0 {
		c.MaxUpdatesInWindow = 8
	}
	if c.Timers == nil {
		c.Timers = defaultTimerFactory
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Gate is the per-record change gate. Create one per editable record
// instance. State keeps the form's field order: fields appear in the
// order they were first hydrated or edited.
type Gate struct {
	cfg  Config
	save SaveFunc
	log  logger.Logger

	mu          sync.Mutex
	state       *content.Map
	recState    State
	hydrated    bool
	dirty       map[string]struct{}
	timer       Timer
	windowStart time.Time
	updates     int
	closed      bool
}

// New returns a Gate in the Uninitialized state.
func New(save SaveFunc, cfg Config, log logger.Logger) *Gate {
	return &Gate{
		cfg:   cfg.withDefaults(),
		save:  save,
		log:   logger.OrNop(log),
		state: content.NewMap(),
		dirty: make(map[string]struct{}),
	}
}

// BeginHydration marks the mirror/remote merge as started. Edits
// arriving before CompleteHydration update state but schedule nothing.
func (g *Gate) BeginHydration() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setStateLocked(StateHydrating)
}

// CompleteHydration installs the merged initial data and arms the
// gate. Fields the user edited while hydration ran are not
// overwritten; if any exist, a save is scheduled for them — they are
// genuine edits, unlike the hydration write itself, which never
// triggers one.
func (g *Gate) CompleteHydration(data *content.Map) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.installCleanLocked(data)
	g.hydrated = true

	if len(g.dirty) == 0 && g.timer == nil {
		g.setStateLocked(StateIdle)
		return
	}
	g.scheduleLocked()
}

// ApplyAuthoritative merges remote data that arrived after hydration
// completed (the optimistic-local, authoritative-remote race). Dirty
// fields win over the remote copy; clean fields adopt it. No save is
// scheduled for what the remote already has.
func (g *Gate) ApplyAuthoritative(data *content.Map) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.installCleanLocked(data)
	if len(g.dirty) == 0 && g.timer == nil && g.recState == StateHydrating {
		g.setStateLocked(StateIdle)
	}
}

// OnFieldChange merges {field: value} into the state. A change that
// leaves the signature identical has no downstream effect; a real
// change schedules (or reschedules) the debounced save, unless the
// loop breaker is tripped.
func (g *Gate) OnFieldChange(field string, value any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}

	before := content.Signature(g.state)
	g.state.Set(field, value)
	if content.Signature(g.state) == before {
		return
	}
	g.dirty[field] = struct{}{}
	g.afterChangeLocked()
}

// OnBulkReplace swaps the entire state, with the same signature and
// debounce discipline as field edits.
func (g *Gate) OnBulkReplace(newState *content.Map) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}

	if content.Signature(newState) == content.Signature(g.state) {
		return
	}
	g.state = newState.Clone()
	for _, k := range g.state.Keys() {
		g.dirty[k] = struct{}{}
	}
	g.afterChangeLocked()
}

// Snapshot returns a deep copy of the current state.
func (g *Gate) Snapshot() *content.Map {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Clone()
}

// ManualSnapshot cancels any pending debounce and returns the state
// for an explicit user save. Manual saves bypass the loop breaker and
// reset its window.
func (g *Gate) ManualSnapshot() *content.Map {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelTimerLocked()
	g.updates = 0
	return g.state.Clone()
}

// State returns the record's lifecycle state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recState
}

// Hydrated reports whether initial hydration has completed.
func (g *Gate) Hydrated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hydrated
}

// MarkSaving records that the queue started writing this record.
func (g *Gate) MarkSaving() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setStateLocked(StateSaving)
}

// MarkSaved installs the persisted signature and clears the dirty
// set. Fields edited after the snapshot being persisted stay dirty.
func (g *Gate) MarkSaved(persistedSig string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if content.Signature(g.state) == persistedSig {
		g.dirty = make(map[string]struct{})
	}
	if g.timer == nil {
		g.setStateLocked(StateIdle)
	} else {
		g.setStateLocked(StatePendingSave)
	}
}

// MarkUnsaved records that the debounced snapshot was examined and
// deliberately not persisted, e.g. below the minimum content size.
// The edit stays dirty, but with nothing scheduled and nothing in
// flight the record must not keep reporting a pending save.
func (g *Gate) MarkUnsaved() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		// A newer edit re-armed the debounce; let it decide.
		return
	}
	g.setStateLocked(StateUnsaved)
}

// MarkSaveFailed records a failed attempt; abandoned is true once the
// retry budget is spent.
func (g *Gate) MarkSaveFailed(abandoned bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if abandoned {
		g.setStateLocked(StateAbandoned)
		return
	}
	g.setStateLocked(StateErrorBackoff)
}

// PendingSave reports whether a debounce timer is armed.
func (g *Gate) PendingSave() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timer != nil
}

// Close cancels any pending debounce. Further edits are ignored.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.cancelTimerLocked()
}

// installCleanLocked copies data into the state, skipping fields the
// user has edited.
func (g *Gate) installCleanLocked(data *content.Map) {
	if data == nil {
		return
	}
	for _, k := range data.Keys() {
		if _, userEdited := g.dirty[k]; userEdited {
			continue
		}
		v, _ := data.Get(k)
		g.state.Set(k, v)
	}
}

func (g *Gate) afterChangeLocked() {
	if !g.hydrated {
		// Pre-hydration edits update the visible state only; the
		// hydration completion decides whether to schedule.
		return
	}

	now := g.cfg.Clock()
	if now.Sub(g.windowStart) > g.cfg.ThrottleWindow {
		g.windowStart = now
		g.updates = 0
	}
	g.updates++
	if g.updates > g.cfg.MaxUpdatesInWindow {
		// Loop breaker: something is re-triggering state changes
		// faster than a person types. Keep the UI state, skip the
		// save callback until the window resets.
		g.log.Warn("gate: update loop throttled", "updates", g.updates)
		return
	}
	g.scheduleLocked()
}

func (g *Gate) scheduleLocked() {
	g.cancelTimerLocked()
	g.timer = g.cfg.Timers(g.cfg.DebounceWindow, g.fire)
	g.setStateLocked(StatePendingSave)
}

func (g *Gate) fire() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.timer = nil
	snapshot := g.state.Clone()
	g.mu.Unlock()
	g.save(snapshot, false)
}

func (g *Gate) cancelTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Gate) setStateLocked(next State) {
	if g.recState == next {
		return
	}
	if !g.recState.canTransitionTo(next) {
		g.log.Debug("gate: unusual state transition",
			"from", g.recState.String(), "to", next.String())
	}
	g.recState = next
}
