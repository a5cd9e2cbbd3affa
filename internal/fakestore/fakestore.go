// Package fakestore provides an in-memory store.RemoteStore with
// scriptable failure injection for exercising the retry, offline and
// conflict paths without a real backend.
package fakestore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/venturetrail/resourcesync/pkg/content"
	"github.com/venturetrail/resourcesync/pkg/model"
	"github.com/venturetrail/resourcesync/pkg/store"
)

// Op names a RemoteStore operation for call counting and hooks.
type Op string

const (
	OpSelect Op = "select"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// Store is an in-memory RemoteStore. The zero value is not usable;
// call New.
type Store struct {
	mu      sync.Mutex
	records map[string]model.Record
	calls   map[Op]int

	failAlways bool
	failNext   int
	hook       func(op Op) error
}

var _ store.RemoteStore = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]model.Record),
		calls:   make(map[Op]int),
	}
}

// FailAlways makes every operation fail with a transient error until
// called again with false.
func (s *Store) FailAlways(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAlways = fail
}

// FailNext makes the next n operations fail with a transient error.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// SetHook installs fn to run before every operation; a non-nil return
// is surfaced as that operation's error, verbatim.
func (s *Store) SetHook(fn func(op Op) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// Calls returns how many times op has been attempted, failures
// included.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Records returns a snapshot of all stored records.
func (s *Store) Records() []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// Seed stores rec directly, bypassing failure injection. Used to set
// up pre-existing (possibly duplicate) records.
func (s *Store) Seed(rec model.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.records[rec.ID] = rec
}

func (s *Store) begin(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if s.hook != nil {
		if err := s.hook(op); err != nil {
			return err
		}
	}
	if s.failAlways {
		return store.Transient(string(op), errors.New("injected failure"))
	}
	if s.failNext > 0 {
		s.failNext--
		return store.Transient(string(op), errors.New("injected failure"))
	}
	return nil
}

func (s *Store) Select(ctx context.Context, f store.Filter) ([]model.Record, error) {
	if err := s.begin(OpSelect); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, store.Transient("select", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Record
	for _, rec := range s.records {
		if matches(rec, f) {
			out = append(out, rec)
		}
	}
	// Deterministic row order regardless of map iteration.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Insert(ctx context.Context, rec model.Record) (model.Record, error) {
	if err := s.begin(OpInsert); err != nil {
		return model.Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Record{}, store.Transient("insert", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *Store) UpdateByID(ctx context.Context, id string, contentData *content.Map, updatedAt time.Time) (model.Record, error) {
	if err := s.begin(OpUpdate); err != nil {
		return model.Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Record{}, store.Transient("update", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return model.Record{}, store.Transient("update", errors.New("no such record: "+id))
	}
	rec.Content = contentData
	rec.UpdatedAt = updatedAt
	s.records[id] = rec
	return rec, nil
}

func matches(rec model.Record, f store.Filter) bool {
	for col, want := range f.Eq {
		if field(rec, col) != want {
			return false
		}
	}
	for _, col := range f.IsNull {
		if field(rec, col) != "" {
			return false
		}
	}
	return true
}

func field(rec model.Record, col string) string {
	switch col {
	case "id":
		return rec.ID
	case "owner_id":
		return rec.OwnerID
	case "step_id":
		return rec.StepID
	case "sub_step_id":
		return rec.SubStepID
	case "section_key":
		return rec.SectionKey
	case "original_section_key":
		return rec.OriginalSectionKey
	case "kind":
		return string(rec.Kind)
	default:
		return ""
	}
}
