// Package mirror implements the durable local cache that absorbs every
// save attempt before (and regardless of) the remote write. It is the
// offline fallback, the read-ahead source on load, and the recovery
// trail when the remote store is unreachable.
//
// The mirror never reports failures to its callers: a write that
// cannot be serialized or stored returns false, a read that finds
// nothing (or finds garbage) reports a miss. The rest of the pipeline
// proceeds as if no cache existed.
package mirror

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/venturetrail/resourcesync/pkg/content"
	"github.com/venturetrail/resourcesync/pkg/logger"
	"github.com/venturetrail/resourcesync/pkg/model"
)

const keyPrefix = "resourcesync:v1"

// Storage is the underlying string key/value store. Implementations
// may fail on Set (quota, I/O); the mirror swallows those failures.
type Storage interface {
	GetItem(key string) (value string, ok bool, err error)
	SetItem(key, value string) error
}

// Lister is optionally implemented by storages that can enumerate
// their keys; the CLI flush command needs it, the save path does not.
type Lister interface {
	Keys() ([]string, error)
}

// Metadata records where and when an entry was written. Version
// increases monotonically per key across rewrites.
type Metadata struct {
	StepID    string    `json:"step_id"`
	SubStepID string    `json:"sub_step_id,omitempty"`
	Section   string    `json:"section"`
	Kind      string    `json:"kind"`
	SavedAt   time.Time `json:"saved_at"`
	Version   int64     `json:"version"`
}

// Entry is a mirrored copy of a save attempt. Data keeps the form's
// field order across the serialize/deserialize round trip.
type Entry struct {
	Data     *content.Map `json:"data"`
	Metadata Metadata     `json:"metadata"`
}

// Mirror serializes entries into a Storage under deterministic keys.
type Mirror struct {
	storage Storage
	log     logger.Logger

	// mu orders the read-version/write pair so Version stays
	// monotonic when two saves for the same key land together.
	mu sync.Mutex
}

// New returns a Mirror over storage. A nil logger is replaced with a
// no-op one.
func New(storage Storage, log logger.Logger) *Mirror {
	return &Mirror{storage: storage, log: logger.OrNop(log)}
}

// Key derives the storage key for a (scope, kind) pair. Identity is
// deliberately absent: the mirror must work signed-out.
func Key(scope model.Scope, kind model.Kind) string {
	return keyPrefix + ":" + scope.ID() + ":" + scope.Section + ":" + string(kind)
}

// Write stores data under the (scope, kind) key, stamping it with now
// and the next version for that key. It returns false, never an
// error, when serialization or storage fails.
func (m *Mirror) Write(scope model.Scope, kind model.Kind, data *content.Map, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key(scope, kind)
	version := int64(1)
	if prev, ok := m.readLocked(key); ok {
		version = prev.Metadata.Version + 1
	}

	entry := Entry{
		Data: data,
		Metadata: Metadata{
			StepID:    scope.StepID,
			SubStepID: scope.SubStepID,
			Section:   scope.Section,
			Kind:      string(kind),
			SavedAt:   now,
			Version:   version,
		},
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		m.log.Warn("mirror: entry not serializable", "key", key, "error", err)
		return false
	}
	if err := m.storage.SetItem(key, string(raw)); err != nil {
		m.log.Warn("mirror: write failed", "key", key, "error", err)
		return false
	}
	return true
}

// Read returns the entry stored for (scope, kind), or ok=false when
// there is none or it cannot be decoded. Decode failures are misses,
// not errors.
func (m *Mirror) Read(scope model.Scope, kind model.Kind) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.readLocked(Key(scope, kind)); ok {
		return e, true
	}
	return nil, false
}

// Entries enumerates every mirrored entry when the storage supports
// listing, newest version last within a key. Returns nil when the
// storage cannot enumerate.
func (m *Mirror) Entries() []Entry {
	lister, ok := m.storage.(Lister)
	if !ok {
		return nil
	}
	keys, err := lister.Keys()
	if err != nil {
		m.log.Warn("mirror: listing failed", "error", err)
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, key := range keys {
		if len(key) < len(keyPrefix) || key[:len(keyPrefix)] != keyPrefix {
			continue
		}
		if e, ok := m.readLocked(key); ok {
			out = append(out, *e)
		}
	}
	return out
}

func (m *Mirror) readLocked(key string) (*Entry, bool) {
	raw, ok, err := m.storage.GetItem(key)
	if err != nil {
		m.log.Warn("mirror: read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		m.log.Warn("mirror: corrupt entry treated as miss", "key", key, "error", err)
		return nil, false
	}
	return &entry, true
}
