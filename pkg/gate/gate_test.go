package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturetrail/resourcesync/pkg/content"
)

type saveRecorder struct {
	snapshots []map[string]any
	manuals   []bool
}

func (r *saveRecorder) save(snapshot *content.Map, manual bool) {
	r.snapshots = append(r.snapshots, snapshot.ToMap())
	r.manuals = append(r.manuals, manual)
}

func newTestGate(rec *saveRecorder, timers *[]*ManualTimer) *Gate {
	return New(rec.save, Config{
		Timers: NewManualFactory(timers),
	}, nil)
}

func hydrate(g *Gate, data map[string]any) {
	g.BeginHydration()
	g.CompleteHydration(content.FromMap(data))
}

func snapField(g *Gate, key string) any {
	v, _ := g.Snapshot().Get(key)
	return v
}

func TestHydrationNeverTriggersSave(t *testing.T) {
	rec := &saveRecorder{}
	var timers []*ManualTimer
	g := newTestGate(rec, &timers)

	hydrate(g, map[string]any{"a": "loaded", "b": "values"})

	assert.Empty(t, timers, "hydration must not schedule a save")
	assert.Empty(t, rec.snapshots)
	assert.Equal(t, StateIdle, g.State())
	assert.Equal(t, "loaded", snapField(g, "a"))
}

func TestDebounceCollapsesRapidEdits(t *testing.T) {
	rec := &saveRecorder{}
	var timers []*ManualTimer
	g := newTestGate(rec, &timers)
	hydrate(g, map[string]any{"a": ""})

	// N edits inside one debounce window: earlier timers are
	// cancelled, only the latest stays armed.
	g.OnFieldChange("a", "h")
	g.OnFieldChange("a", "he")
	g.OnFieldChange("a", "hel")
	g.OnFieldChange("a", "hello")

	require.Len(t, timers, 4)
	live := 0
	for _, tm := range timers {
		if !tm.Stopped() {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.Equal(t, StatePendingSave, g.State())

	// Firing the surviving timer produces exactly one save carrying
	// the final merged content.
	timers[len(timers)-1].Fire()
	require.Len(t, rec.snapshots, 1)
	assert.Equal(t, "hello", rec.snapshots[0]["a"])
	assert.False(t, rec.manuals[0])
}

func TestUnchangedValueHasNoDownstreamEffect(t *testing.T) {
	rec := &saveRecorder{}
	var timers []*ManualTimer
	g := newTestGate(rec, &timers)
	hydrate(g, map[string]any{"a": "same"})

	g.OnFieldChange("a", "same")
	assert.Empty(t, timers)
	assert.Equal(t, StateIdle, g.State())
}

func TestEditsDuringHydrationSurviveAndScheduleAfter(t *testing.T) {
	rec := &saveRecorder{}
	var timers []*ManualTimer
	g := newTestGate(rec, &timers)

	g.BeginHydration()
	g.OnFieldChange("a", "typed early")
	assert.Empty(t, timers, "pre-hydration edits must not schedule")

	// Hydration data must not clobber what the user already typed,
	// and the early edit now becomes eligible for persistence.
	g.CompleteHydration(content.FromMap(map[string]any{"a": "stored", "b": "stored-b"}))
	assert.Equal(t, "typed early", snapField(g, "a"))
	assert.Equal(t, "stored-b", snapField(g, "b"))

	require.Len(t, timers, 1)
	timers[0].Fire()
	require.Len(t, rec.snapshots, 1)
	assert.Equal(t, "typed early", rec.snapshots[0]["a"])
}

func TestApplyAuthoritativeDoesNotClobberDirtyFields(t *testing.T) {
	rec := &saveRecorder{}
	var timers []*ManualTimer
	g := newTestGate(rec, &timers)
	hydrate(g, map[string]any{"a": "local", "b": "local"})

	g.OnFieldChange("a", "user edit")
	g.ApplyAuthoritative(content.FromMap(map[string]any{"a": "remote", "b": "remote"}))

	assert.Equal(t, "user edit", snapField(g, "a"), "in-flight edit survives the late remote")
	assert.Equal(t, "remote", snapField(g, "b"))
}

func TestBulkReplace(t *testing.T) {
	rec := &saveRecorder{}
	var timers []*ManualTimer
	g := newTestGate(rec, &timers)
	hydrate(g, map[string]any{"a": "one"})

	g.OnBulkReplace(content.FromMap(map[string]any{"a": "two", "c": 3}))
	require.Len(t, timers, 1)
	timers[0].Fire()
	require.Len(t, rec.snapshots, 1)
	assert.Equal(t, "two", rec.snapshots[0]["a"])

	// Replacing with identical content is a no-op.
	g.OnBulkReplace(content.FromMap(map[string]any{"a": "two", "c": 3}))
	assert.Len(t, timers, 1)
}

func TestStateKeepsFieldOrder(t *testing.T) {
	rec := &saveRecorder{}
	var timers []*ManualTimer
	g := newTestGate(rec, &timers)

	hydrated := content.NewMap()
	hydrated.Set("weaknesses", "")
	hydrated.Set("strengths", "")
	g.BeginHydration()
	g.CompleteHydration(hydrated)

	g.OnFieldChange("strengths", "brand")
	g.OnFieldChange("threats", "rivals")

	assert.Equal(t, []string{"weaknesses", "strengths", "threats"}, g.Snapshot().Keys())
}

func TestLoopBreakerThrottlesRunawayUpdates(t *testing.T) {
	rec := &saveRecorder{}
	var timers []*ManualTimer
	now := time.Unix(1700000000, 0)
	g := New(rec.save, Config{
		Timers:             NewManualFactory(&timers),
		MaxUpdatesInWindow: 5,
		ThrottleWindow:     2 * time.Second,
		Clock:              func() time.Time { return now },
	}, nil)
	hydrate(g, map[string]any{"n": 0})

	for i := 1; i <= 20; i++ {
		g.OnFieldChange("n", i)
	}

	// Only the first five changes scheduled timers; the rest updated
	// state without any downstream save effect.
	assert.Len(t, timers, 5)
	assert.Equal(t, 20, snapField(g, "n"))

	// The window resets and saves flow again.
	now = now.Add(3 * time.Second)
	g.OnFieldChange("n", 21)
	assert.Len(t, timers, 6)

	// A manual save bypasses throttling entirely: snapshot is
	// available no matter how hot the window is.
	for i := 22; i <= 40; i++ {
		g.OnFieldChange("n", i)
	}
	snap := g.ManualSnapshot()
	v, _ := snap.Get("n")
	assert.Equal(t, 40, v)
	assert.False(t, g.PendingSave(), "manual snapshot cancels the pending debounce")
}

func TestMarkSavedLifecycle(t *testing.T) {
	rec := &saveRecorder{}
	var timers []*ManualTimer
	g := newTestGate(rec, &timers)
	hydrate(g, map[string]any{"a": ""})

	g.OnFieldChange("a", "hello")
	require.Len(t, timers, 1)
	timers[0].Fire()

	g.MarkSaving()
	assert.Equal(t, StateSaving, g.State())

	g.MarkSaved(`{"a":"hello"}`)
	assert.Equal(t, StateIdle, g.State())

	// Failure path: backoff, then terminal abandonment, then a new
	// edit re-enters the pending cycle.
	g.OnFieldChange("a", "hello again")
	g.MarkSaving()
	g.MarkSaveFailed(false)
	assert.Equal(t, StateErrorBackoff, g.State())
	g.MarkSaveFailed(true)
	assert.Equal(t, StateAbandoned, g.State())

	g.OnFieldChange("a", "fresh edit")
	assert.Equal(t, StatePendingSave, g.State())
}

func TestMarkUnsavedRestsAfterSkippedSave(t *testing.T) {
	rec := &saveRecorder{}
	var timers []*ManualTimer
	g := newTestGate(rec, &timers)
	hydrate(g, map[string]any{"n": ""})

	// The debounce fires, the decision layer skips the write and
	// reports back: the record comes to rest instead of pending
	// forever.
	g.OnFieldChange("n", "x")
	require.Len(t, timers, 1)
	timers[0].Fire()
	g.MarkUnsaved()
	assert.Equal(t, StateUnsaved, g.State())

	// The next edit re-enters the normal cycle.
	g.OnFieldChange("n", "xy")
	assert.Equal(t, StatePendingSave, g.State())

	// With a fresh debounce armed, MarkUnsaved defers to it.
	g.MarkUnsaved()
	assert.Equal(t, StatePendingSave, g.State())
}

func TestCloseStopsScheduling(t *testing.T) {
	rec := &saveRecorder{}
	var timers []*ManualTimer
	g := newTestGate(rec, &timers)
	hydrate(g, map[string]any{"a": ""})

	g.OnFieldChange("a", "x")
	require.Len(t, timers, 1)
	g.Close()
	assert.True(t, timers[0].Stopped())

	g.OnFieldChange("a", "y")
	assert.Len(t, timers, 1)

	// A fire that races Close is swallowed.
	timers[0].fn()
	assert.Empty(t, rec.snapshots)
}
