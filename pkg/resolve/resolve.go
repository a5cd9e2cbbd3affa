// Package resolve locates the canonical remote record for a scope
// among possibly multiple legacy-titled duplicates. Section titles
// have been renamed over the system's history, so the same logical
// record may be stored under several spellings; the resolver probes a
// deterministic candidate sequence and takes the first match.
package resolve

import (
	"context"
	"strings"

	"github.com/venturetrail/resourcesync/pkg/logger"
	"github.com/venturetrail/resourcesync/pkg/model"
	"github.com/venturetrail/resourcesync/pkg/store"
)

// Resolver finds existing records. Resolution is read-only and
// idempotent.
type Resolver struct {
	store   store.RemoteStore
	mapping *Mapping
	log     logger.Logger
}

// New returns a Resolver over the given store. A nil mapping selects
// DefaultMapping.
func New(remote store.RemoteStore, mapping *Mapping, log logger.Logger) *Resolver {
	if mapping == nil {
		mapping = DefaultMapping()
	}
	return &Resolver{store: remote, mapping: mapping, log: logger.OrNop(log)}
}

// Mapping returns the resolver's section title mapping.
func (r *Resolver) Mapping() *Mapping { return r.mapping }

// CandidateKeys produces the ordered, finite sequence of plausible
// section-key spellings for the scope, most-canonical first:
//
//  1. the canonical spelling of the scope's section title
//  2. the title exactly as the scope carries it, if different
//  3. known legacy spellings, in mapping order
//  4. a lowercase-hyphenated slug, the oldest key format
//
// The sequence is deterministic and duplicate-free, so repeated
// resolution always probes in the same order.
func (r *Resolver) CandidateKeys(scope model.Scope) []string {
	canonical := r.mapping.Canonicalize(scope.Section)

	seen := make(map[string]struct{}, 6)
	var keys []string
	add := func(k string) {
		if k == "" {
			return
		}
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	add(canonical)
	add(normalizeTitle(scope.Section))
	for _, legacy := range r.mapping.LegacySpellings(canonical) {
		add(legacy)
	}
	add(slug(canonical))
	return keys
}

// FindExisting probes the candidate keys in order and returns the
// first record matching (ownerID, scope, kind), or nil when none
// match. An error on one candidate's query is logged and treated as
// "no match for this candidate"; the probe continues. After the
// section-key candidates are exhausted, one final probe checks the
// record's preserved original key against the scope's raw title.
func (r *Resolver) FindExisting(ctx context.Context, ownerID string, scope model.Scope, kind model.Kind) *model.Record {
	for _, key := range r.CandidateKeys(scope) {
		if rec := r.probe(ctx, ownerID, scope, kind, "section_key", key); rec != nil {
			return rec
		}
	}
	if raw := normalizeTitle(scope.Section); raw != "" {
		if rec := r.probe(ctx, ownerID, scope, kind, "original_section_key", raw); rec != nil {
			return rec
		}
	}
	return nil
}

func (r *Resolver) probe(ctx context.Context, ownerID string, scope model.Scope, kind model.Kind, keyColumn, key string) *model.Record {
	filter := store.Filter{
		Eq: map[string]string{
			"owner_id": ownerID,
			"step_id":  scope.StepID,
			"kind":     string(kind),
			keyColumn:  key,
		},
	}
	if scope.SubStepID != "" {
		filter.Eq["sub_step_id"] = scope.SubStepID
	} else {
		filter.IsNull = append(filter.IsNull, "sub_step_id")
	}

	rows, err := r.store.Select(ctx, filter)
	if err != nil {
		r.log.Debug("resolve: candidate query failed, continuing",
			"column", keyColumn, "key", key, "error", err)
		return nil
	}
	if len(rows) == 0 {
		return nil
	}
	if len(rows) > 1 {
		r.log.Warn("resolve: multiple records under one key, taking first",
			"key", key, "count", len(rows))
	}
	rec := rows[0]
	return &rec
}

func slug(title string) string {
	fields := strings.Fields(strings.ToLower(title))
	return strings.Join(fields, "-")
}
