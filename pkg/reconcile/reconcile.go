// Package reconcile decides what happens to each change: write it,
// skip it, or defer it; and owns the write path itself — identity
// check, mirror write-through, find-or-create against the remote
// store. It is the one place where "should this be saved" and "how is
// this saved" live, consolidating what used to be several divergent
// reimplementations in the legacy front-end.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/venturetrail/resourcesync/pkg/content"
	"github.com/venturetrail/resourcesync/pkg/logger"
	"github.com/venturetrail/resourcesync/pkg/mirror"
	"github.com/venturetrail/resourcesync/pkg/model"
	"github.com/venturetrail/resourcesync/pkg/resolve"
	"github.com/venturetrail/resourcesync/pkg/session"
	"github.com/venturetrail/resourcesync/pkg/store"
)

// ErrAuthRequired reports that an operation needs a signed-in
// identity. It is an outcome for the caller to interpret (prompt,
// redirect), never a crash; the content survives in the mirror and
// the queue, so nothing the user typed is lost.
var ErrAuthRequired = errors.New("reconcile: authentication required")

// ErrInvalidContent reports content that is nil or not a structured
// map. This is a contract violation at the call site; the save is
// dropped without retry.
var ErrInvalidContent = errors.New("reconcile: content must be a non-nil map")

// Action is what Decide chose to do with a change.
type Action int

const (
	// ActionSkip drops the change: nothing to persist.
	ActionSkip Action = iota
	// ActionEnqueue queues the change at Decision.Priority.
	ActionEnqueue
	// ActionWriteImmediate persists an explicit user save ahead of
	// background work.
	ActionWriteImmediate
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionEnqueue:
		return "enqueue"
	case ActionWriteImmediate:
		return "write-immediate"
	default:
		return "invalid"
	}
}

// Decision is the outcome of Decide.
type Decision struct {
	Action    Action
	Priority  model.Priority
	Signature string
	Reason    string
}

// Source says where LoadAndMerge's data came from.
type Source int

const (
	SourceDefaults Source = iota
	SourceMirror
	SourceRemote
)

func (s Source) String() string {
	switch s {
	case SourceRemote:
		return "remote"
	case SourceMirror:
		return "mirror"
	default:
		return "defaults"
	}
}

// Config tunes an Engine. Zero values select the defaults.
type Config struct {
	// MinContentLength skips non-manual saves whose canonical
	// serialization is shorter than this many characters, guarding
	// against persisting empty placeholder states produced by form
	// initialization. Inherited heuristic; short-but-valid answers
	// are only saved via manual save or once more content exists.
	// Default 10.
	MinContentLength int

	// LoadTimeout bounds the authoritative (identity + remote) side
	// of a load; past it the mirror or the defaults win so the UI
	// never hangs loading. Default 5s.
	LoadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinContentLength <= 0 {
		c.MinContentLength = 10
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 5 * time.Second
	}
	return c
}

// Engine implements the decide/load/persist triad.
type Engine struct {
	store    store.RemoteStore
	mirror   *mirror.Mirror
	gate     *session.Gate
	resolver *resolve.Resolver
	cfg      Config
	log      logger.Logger
	now      func() time.Time
}

// New wires an Engine from its collaborators.
func New(remote store.RemoteStore, m *mirror.Mirror, gate *session.Gate, resolver *resolve.Resolver, cfg Config, log logger.Logger) *Engine {
	return &Engine{
		store:    remote,
		mirror:   m,
		gate:     gate,
		resolver: resolver,
		cfg:      cfg.withDefaults(),
		log:      logger.OrNop(log),
		now:      time.Now,
	}
}

// Decide compares newContent against the last persisted signature and
// chooses skip, enqueue or immediate write. Identical signatures are
// the primary defense against redundant writes; the minimum-size
// guard only applies to automatic saves.
func (e *Engine) Decide(newContent *content.Map, lastSignature string, manual bool) Decision {
	sig := content.Signature(newContent)
	if sig == lastSignature {
		return Decision{Action: ActionSkip, Signature: sig, Reason: "unchanged"}
	}
	if !manual && len(sig) < e.cfg.MinContentLength {
		return Decision{Action: ActionSkip, Signature: sig, Reason: "below minimum size"}
	}
	if manual {
		return Decision{Action: ActionWriteImmediate, Priority: model.PriorityHigh, Signature: sig, Reason: "manual save"}
	}
	return Decision{Action: ActionEnqueue, Priority: model.PriorityNormal, Signature: sig, Reason: "content changed"}
}

// LoadAndMerge produces the state a form starts from: the remote
// record when identity and the store cooperate within the load
// timeout, else the mirrored copy, else the defaults. Stored data
// overrides matching default keys; default keys the stored data does
// not know survive. It never fails — every step falls through to the
// next.
func (e *Engine) LoadAndMerge(ctx context.Context, scope model.Scope, kind model.Kind, defaults *content.Map) (*content.Map, Source) {
	loadCtx, cancel := context.WithTimeout(ctx, e.cfg.LoadTimeout)
	defer cancel()

	if rec, ok := e.FindRemote(loadCtx, scope, kind); ok {
		return content.Merge(defaults, rec.Content), SourceRemote
	}
	if entry, ok := e.mirror.Read(scope, kind); ok {
		return content.Merge(defaults, entry.Data), SourceMirror
	}
	return content.Merge(defaults, nil), SourceDefaults
}

// FindRemote resolves the authoritative record for (scope, kind),
// requiring an identity. ok is false when signed out, unresolved, or
// the store misbehaved.
func (e *Engine) FindRemote(ctx context.Context, scope model.Scope, kind model.Kind) (*model.Record, bool) {
	identity := e.gate.RequireIdentity(ctx)
	if identity == nil {
		return nil, false
	}
	rec := e.resolver.FindExisting(ctx, identity.ID, scope, kind)
	if rec == nil {
		return nil, false
	}
	return rec, true
}

// Persist writes contentData for (scope, kind): the mirror first,
// unconditionally, then the remote store via find-or-create with
// update preference. When knownRecordID is set the update goes
// straight there; otherwise the resolver searches for an existing
// record so a first save after a reload updates rather than
// duplicates.
func (e *Engine) Persist(ctx context.Context, scope model.Scope, kind model.Kind, contentData *content.Map, knownRecordID string) (model.Record, error) {
	if contentData == nil {
		return model.Record{}, ErrInvalidContent
	}

	now := e.now()
	// The mirror absorbs the write before any remote outcome, so a
	// failure beyond this point cannot lose user data.
	e.mirror.Write(scope, kind, contentData, now)

	identity := e.gate.RequireIdentity(ctx)
	if identity == nil {
		return model.Record{}, ErrAuthRequired
	}

	if knownRecordID != "" {
		return e.store.UpdateByID(ctx, knownRecordID, contentData, now)
	}

	if existing := e.resolver.FindExisting(ctx, identity.ID, scope, kind); existing != nil {
		e.log.Debug("reconcile: updating resolved record",
			"record_id", existing.ID, "section_key", existing.SectionKey)
		return e.store.UpdateByID(ctx, existing.ID, contentData, now)
	}

	canonical := e.resolver.Mapping().Canonicalize(scope.Section)
	rec := model.Record{
		OwnerID:            identity.ID,
		StepID:             scope.StepID,
		SubStepID:          scope.SubStepID,
		SectionKey:         canonical,
		OriginalSectionKey: scope.Section,
		Kind:               kind,
		Content:            contentData,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	e.log.Debug("reconcile: creating record", "scope", scope.String(), "kind", string(kind))
	return e.store.Insert(ctx, rec)
}

// Mirror exposes the engine's mirror for read-side callers.
func (e *Engine) Mirror() *mirror.Mirror { return e.mirror }
