package resourcesync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturetrail/resourcesync/internal/fakeauth"
	"github.com/venturetrail/resourcesync/internal/fakestore"
	"github.com/venturetrail/resourcesync/pkg/content"
	"github.com/venturetrail/resourcesync/pkg/mirror"
	"github.com/venturetrail/resourcesync/pkg/model"
	"github.com/venturetrail/resourcesync/pkg/reconcile"
)

var swotScope = Scope{StepID: "step-3", Section: "SWOT Analysis"}

const swotKind = Kind("swot_analysis")

func signedIn(auth *fakeauth.Provider) {
	auth.SetIdentity(&model.Identity{ID: "user-1", Email: "founder@example.com"})
}

func field(t *testing.T, m *content.Map, key string) any {
	t.Helper()
	v, ok := m.Get(key)
	require.True(t, ok, "field %q missing", key)
	return v
}

func TestTypingProducesOneWriteWithFinalContent(t *testing.T) {
	st := fakestore.New()
	auth := fakeauth.New()
	signedIn(auth)

	c, err := New(fastClientConfig(st, auth))
	require.NoError(t, err)
	defer c.Close()

	res := c.Resource(swotScope, swotKind)
	src := res.Hydrate(context.Background(), map[string]any{"strengths": ""})
	assert.Equal(t, reconcile.SourceDefaults, src)

	// Five keystrokes inside one debounce window.
	for _, v := range []string{"h", "he", "hel", "hell", "hello"} {
		res.HandleFieldChange("strengths", v)
	}

	require.Eventually(t, func() bool {
		return len(st.Records()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Flush(context.Background()))

	assert.Equal(t, 1, st.Calls(fakestore.OpInsert), "one write for five keystrokes")
	assert.Equal(t, 0, st.Calls(fakestore.OpUpdate))
	rec := st.Records()[0]
	assert.Equal(t, "hello", field(t, rec.Content, "strengths"))
	assert.Equal(t, "user-1", rec.OwnerID)
	assert.Equal(t, "SWOT Analysis", rec.SectionKey)
	assert.NotEmpty(t, res.RecordID())
	assert.Equal(t, StatusSuccess, res.Status())

	// Re-entering the identical value (focus/blur churn) stays silent.
	res.HandleFieldChange("strengths", "hello")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, st.Calls(fakestore.OpInsert))
	assert.Equal(t, 0, st.Calls(fakestore.OpUpdate))
}

func TestSubsequentEditUpdatesKnownRecord(t *testing.T) {
	st := fakestore.New()
	auth := fakeauth.New()
	signedIn(auth)

	c, err := New(fastClientConfig(st, auth))
	require.NoError(t, err)
	defer c.Close()

	res := c.Resource(swotScope, swotKind)
	res.Hydrate(context.Background(), nil)

	res.HandleFieldChange("strengths", "first version")
	require.Eventually(t, func() bool { return len(st.Records()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Flush(context.Background()))
	id := res.RecordID()
	selectsAfterCreate := st.Calls(fakestore.OpSelect)

	res.HandleFieldChange("strengths", "second version")
	require.Eventually(t, func() bool {
		return st.Calls(fakestore.OpUpdate) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Flush(context.Background()))

	// The known record ID short-circuits resolution entirely.
	assert.Equal(t, selectsAfterCreate, st.Calls(fakestore.OpSelect))
	assert.Equal(t, 1, st.Calls(fakestore.OpInsert))
	require.Len(t, st.Records(), 1)
	assert.Equal(t, id, st.Records()[0].ID)
	assert.Equal(t, "second version", field(t, st.Records()[0].Content, "strengths"))
}

func TestLegacySectionTitleUpdatesExistingRecord(t *testing.T) {
	st := fakestore.New()
	auth := fakeauth.New()
	signedIn(auth)

	// A record saved years ago under the old section title.
	st.Seed(model.Record{
		ID:         "legacy-1",
		OwnerID:    "user-1",
		StepID:     "step-3",
		SectionKey: "SWOT",
		Kind:       swotKind,
		Content:    content.FromMap(map[string]any{"strengths": "old answer"}),
		CreatedAt:  time.Now().Add(-24 * time.Hour),
	})

	c, err := New(fastClientConfig(st, auth))
	require.NoError(t, err)
	defer c.Close()

	res := c.Resource(swotScope, swotKind)
	src := res.Hydrate(context.Background(), map[string]any{"strengths": "", "weaknesses": ""})
	assert.Equal(t, reconcile.SourceRemote, src)
	assert.Equal(t, "legacy-1", res.RecordID())
	snap := res.Snapshot()
	assert.Equal(t, "old answer", snap["strengths"])
	assert.Equal(t, "", snap["weaknesses"], "default keys the record lacks survive")

	res.HandleFieldChange("strengths", "new answer")
	require.Eventually(t, func() bool {
		return st.Calls(fakestore.OpUpdate) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Flush(context.Background()))

	require.Len(t, st.Records(), 1, "renamed section must not duplicate the record")
	assert.Equal(t, 0, st.Calls(fakestore.OpInsert))
	assert.Equal(t, "new answer", field(t, st.Records()[0].Content, "strengths"))
}

func TestSignedOutSaveParksAndSignInCompletesIt(t *testing.T) {
	st := fakestore.New()
	auth := fakeauth.New() // signed out

	var prompted atomic.Int32
	cfg := fastClientConfig(st, auth)
	cfg.OnAuthRequired = func() { prompted.Add(1) }

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	res := c.Resource(swotScope, swotKind)
	res.Hydrate(context.Background(), nil)
	res.HandleFieldChange("strengths", "typed while signed out")

	require.Eventually(t, func() bool { return c.AuthPending() }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, st.Records(), "no remote write without identity")
	require.Eventually(t, func() bool { return prompted.Load() == 1 }, time.Second, time.Millisecond)

	// The content is already safe locally.
	entry, ok := c.Mirror().Read(swotScope, swotKind)
	require.True(t, ok)
	assert.Equal(t, "typed while signed out", field(t, entry.Data, "strengths"))

	// Sign-in resyncs the parked save with nothing re-entered.
	auth.SignIn(&model.Identity{ID: "user-1"})
	require.Eventually(t, func() bool { return len(st.Records()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Flush(context.Background()))

	assert.False(t, c.AuthPending())
	assert.Equal(t, "typed while signed out", field(t, st.Records()[0].Content, "strengths"))
	assert.Equal(t, "user-1", st.Records()[0].OwnerID)
}

func TestOutageSurvivesViaMirrorAcrossRestart(t *testing.T) {
	storage := mirror.NewMemoryStorage()
	st := fakestore.New()
	st.FailAlways(true)
	auth := fakeauth.New()
	signedIn(auth)

	cfg := fastClientConfig(st, auth)
	cfg.Storage = storage
	c, err := New(cfg)
	require.NoError(t, err)

	res := c.Resource(swotScope, swotKind)
	res.Hydrate(context.Background(), nil)
	res.HandleFieldChange("strengths", "do not lose this")

	// The retry budget burns out against the dead store.
	require.Eventually(t, func() bool {
		return st.Calls(fakestore.OpInsert) >= 1 && c.SaveStatus() == StatusError && c.PendingSaves() == 0
	}, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, st.Records())
	assert.Equal(t, StatusError, res.Status())
	c.Close()

	// A fresh client over the same storage starts from the mirrored
	// copy, as a page reload would.
	st.FailAlways(false)
	cfg2 := fastClientConfig(st, auth)
	cfg2.Storage = storage
	c2, err := New(cfg2)
	require.NoError(t, err)
	defer c2.Close()

	res2 := c2.Resource(swotScope, swotKind)
	src := res2.Hydrate(context.Background(), nil)
	assert.Equal(t, reconcile.SourceMirror, src)
	assert.Equal(t, "do not lose this", res2.Snapshot()["strengths"])

	require.NoError(t, res2.ManualSave(context.Background()))
	require.Len(t, st.Records(), 1)
	assert.Equal(t, "do not lose this", field(t, st.Records()[0].Content, "strengths"))
}

func TestManualSaveBypassesMinimumSizeGuard(t *testing.T) {
	st := fakestore.New()
	auth := fakeauth.New()
	signedIn(auth)

	c, err := New(fastClientConfig(st, auth))
	require.NoError(t, err)
	defer c.Close()

	res := c.Resource(Scope{StepID: "step-1", Section: "Notes"}, "notes")
	res.Hydrate(context.Background(), nil)

	// Too small for an automatic save.
	res.HandleFieldChange("n", "x")
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, st.Records())

	require.NoError(t, res.ManualSave(context.Background()))
	require.Len(t, st.Records(), 1)
	assert.Equal(t, "x", field(t, st.Records()[0].Content, "n"))

	// And a repeat manual save of unchanged content is a no-op.
	require.NoError(t, res.ManualSave(context.Background()))
	assert.Equal(t, 1, st.Calls(fakestore.OpInsert))
	assert.Equal(t, 0, st.Calls(fakestore.OpUpdate))
}

func TestBelowMinimumEditComesToRest(t *testing.T) {
	st := fakestore.New()
	auth := fakeauth.New()
	signedIn(auth)

	c, err := New(fastClientConfig(st, auth))
	require.NoError(t, err)
	defer c.Close()

	res := c.Resource(Scope{StepID: "step-1", Section: "Notes"}, "notes")
	res.Hydrate(context.Background(), nil)

	// The debounce fires, the engine skips the tiny content, and the
	// record settles instead of reporting a pending save forever.
	res.HandleFieldChange("n", "x")
	assert.Equal(t, StatusPending, res.Status())
	require.Eventually(t, func() bool {
		return res.Status() == StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, st.Records())

	// Growing past the threshold saves normally.
	res.HandleFieldChange("n", "now big enough to keep")
	require.Eventually(t, func() bool { return len(st.Records()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, StatusSuccess, res.Status())
}

func TestManualSaveWhileSignedOutReturnsAuthRequired(t *testing.T) {
	st := fakestore.New()
	auth := fakeauth.New()

	c, err := New(fastClientConfig(st, auth))
	require.NoError(t, err)
	defer c.Close()

	res := c.Resource(swotScope, swotKind)
	res.Hydrate(context.Background(), nil)
	res.HandleBulkReplace(map[string]any{"strengths": "offline work"})

	err = res.ManualSave(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthRequired(err))

	// Parked, mirrored, and completed by the next sign-in.
	entry, ok := c.Mirror().Read(swotScope, swotKind)
	require.True(t, ok)
	assert.Equal(t, "offline work", field(t, entry.Data, "strengths"))

	auth.SignIn(&model.Identity{ID: "user-1"})
	require.Eventually(t, func() bool { return len(st.Records()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

// slowStore delays Insert until released, keeping a write in flight
// long enough for the test to overlap other activity with it.
type slowStore struct {
	*fakestore.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowStore) Insert(ctx context.Context, rec model.Record) (model.Record, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.Insert(ctx, rec)
}

func TestManualSaveDuringInFlightAutoSaveDoesNotDuplicate(t *testing.T) {
	st := fakestore.New()
	slow := &slowStore{
		Store:   st,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	auth := fakeauth.New()
	signedIn(auth)

	cfg := fastClientConfig(st, auth)
	cfg.Store = slow
	// A wide debounce keeps the second edit pending until the manual
	// save snapshots it.
	cfg.Gate.DebounceWindow = 300 * time.Millisecond
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	res := c.Resource(swotScope, swotKind)
	res.Hydrate(context.Background(), nil)

	// An automatic save goes in flight and blocks inside the store.
	res.HandleFieldChange("strengths", "first pass of the analysis")
	<-slow.entered
	assert.Equal(t, StatusSaving, res.Status())

	// The user keeps typing and then hits save while the background
	// write is still running.
	res.HandleFieldChange("strengths", "first pass of the analysis, expanded")
	manualErr := make(chan error, 1)
	go func() { manualErr <- res.ManualSave(context.Background()) }()

	// Both intents are queued behind the single processor.
	require.Eventually(t, func() bool { return c.PendingSaves() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(slow.release)

	require.NoError(t, <-manualErr)
	require.NoError(t, c.Flush(context.Background()))

	require.Len(t, st.Records(), 1, "overlapping saves must not duplicate the record")
	assert.Equal(t, 1, st.Calls(fakestore.OpInsert))
	assert.Equal(t, 1, st.Calls(fakestore.OpUpdate))
	assert.Equal(t, "first pass of the analysis, expanded",
		field(t, st.Records()[0].Content, "strengths"))
}

func TestMirrorHydrationAdoptsRemoteRecordID(t *testing.T) {
	storage := mirror.NewMemoryStorage()
	st := fakestore.New()
	auth := fakeauth.New()
	signedIn(auth)

	st.Seed(model.Record{
		ID:         "remote-1",
		OwnerID:    "user-1",
		StepID:     "step-3",
		SectionKey: "SWOT Analysis",
		Kind:       swotKind,
		Content:    content.FromMap(map[string]any{"strengths": "remote truth"}),
	})

	cfg := fastClientConfig(st, auth)
	cfg.Storage = storage
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	// Pre-populate the mirror so hydration takes the fast path.
	c.Mirror().Write(swotScope, swotKind, content.FromMap(map[string]any{"strengths": "mirrored"}), time.Now())

	res := c.Resource(swotScope, swotKind)
	src := res.Hydrate(context.Background(), nil)
	assert.Equal(t, reconcile.SourceMirror, src)
	assert.Equal(t, "mirrored", res.Snapshot()["strengths"])

	// The background refresh adopts the authoritative record.
	require.Eventually(t, func() bool { return res.RecordID() == "remote-1" }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return res.Snapshot()["strengths"] == "remote truth"
	}, 2*time.Second, 5*time.Millisecond)
}
