package mirror

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturetrail/resourcesync/pkg/content"
	"github.com/venturetrail/resourcesync/pkg/model"
)

var testScope = model.Scope{StepID: "step-3", SubStepID: "ideation", Section: "SWOT Analysis"}

func data(kv map[string]any) *content.Map {
	return content.FromMap(kv)
}

func field(t *testing.T, e *Entry, key string) any {
	t.Helper()
	v, ok := e.Data.Get(key)
	require.True(t, ok, "field %q missing", key)
	return v
}

func TestWriteReadRoundTrip(t *testing.T) {
	m := New(NewMemoryStorage(), nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ok := m.Write(testScope, "swot_analysis", data(map[string]any{"strengths": "brand"}), now)
	require.True(t, ok)

	entry, ok := m.Read(testScope, "swot_analysis")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"strengths": "brand"}, entry.Data.ToMap())
	assert.Equal(t, "step-3", entry.Metadata.StepID)
	assert.Equal(t, "SWOT Analysis", entry.Metadata.Section)
	assert.True(t, entry.Metadata.SavedAt.Equal(now))
	assert.Equal(t, int64(1), entry.Metadata.Version)
}

func TestReadPreservesFieldOrder(t *testing.T) {
	m := New(NewMemoryStorage(), nil)
	payload := content.NewMap()
	payload.Set("weaknesses", "few")
	payload.Set("strengths", "many")
	payload.Set("threats", "none")

	require.True(t, m.Write(testScope, "swot_analysis", payload, time.Now()))
	entry, ok := m.Read(testScope, "swot_analysis")
	require.True(t, ok)
	assert.Equal(t, []string{"weaknesses", "strengths", "threats"}, entry.Data.Keys())
}

func TestVersionIsMonotonic(t *testing.T) {
	m := New(NewMemoryStorage(), nil)
	now := time.Now()

	for i := 1; i <= 3; i++ {
		require.True(t, m.Write(testScope, "checklist", data(map[string]any{"n": i}), now))
		entry, ok := m.Read(testScope, "checklist")
		require.True(t, ok)
		assert.Equal(t, int64(i), entry.Metadata.Version)
	}
}

func TestKeySeparatesScopesAndKinds(t *testing.T) {
	m := New(NewMemoryStorage(), nil)
	other := model.Scope{StepID: "step-4", Section: "Finances"}
	now := time.Now()

	require.True(t, m.Write(testScope, "swot_analysis", data(map[string]any{"v": "a"}), now))
	require.True(t, m.Write(other, "swot_analysis", data(map[string]any{"v": "b"}), now))
	require.True(t, m.Write(testScope, "checklist", data(map[string]any{"v": "c"}), now))

	entry, ok := m.Read(testScope, "swot_analysis")
	require.True(t, ok)
	assert.Equal(t, "a", field(t, entry, "v"))

	entry, ok = m.Read(other, "swot_analysis")
	require.True(t, ok)
	assert.Equal(t, "b", field(t, entry, "v"))
}

func TestMissOnAbsentKey(t *testing.T) {
	m := New(NewMemoryStorage(), nil)
	_, ok := m.Read(testScope, "swot_analysis")
	assert.False(t, ok)
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	storage := NewMemoryStorage()
	m := New(storage, nil)

	require.NoError(t, storage.SetItem(Key(testScope, "swot_analysis"), "{not json"))
	_, ok := m.Read(testScope, "swot_analysis")
	assert.False(t, ok)
}

func TestFailedWriteReturnsFalse(t *testing.T) {
	storage := NewMemoryStorage()
	storage.FailWrites = true
	m := New(storage, nil)

	ok := m.Write(testScope, "swot_analysis", data(map[string]any{"a": 1}), time.Now())
	assert.False(t, ok)
}

func TestEntriesListsMirroredWrites(t *testing.T) {
	m := New(NewMemoryStorage(), nil)
	now := time.Now()
	require.True(t, m.Write(testScope, "swot_analysis", data(map[string]any{"a": 1}), now))
	require.True(t, m.Write(testScope, "checklist", data(map[string]any{"b": 2}), now))

	entries := m.Entries()
	require.Len(t, entries, 2)
}

func TestSQLiteStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")

	storage, err := OpenSQLite(path)
	require.NoError(t, err)

	m := New(storage, nil)
	require.True(t, m.Write(testScope, "swot_analysis", data(map[string]any{"a": "x"}), time.Now()))
	require.NoError(t, storage.Close())

	// Reopen: the entry survived the process boundary.
	storage, err = OpenSQLite(path)
	require.NoError(t, err)
	defer storage.Close()

	entry, ok := New(storage, nil).Read(testScope, "swot_analysis")
	require.True(t, ok)
	assert.Equal(t, "x", field(t, entry, "a"))

	keys, err := storage.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}
