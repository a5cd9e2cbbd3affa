package resourcesync

import (
	"context"
	"sync"
	"time"

	"github.com/venturetrail/resourcesync/pkg/gate"
	"github.com/venturetrail/resourcesync/pkg/logger"
	"github.com/venturetrail/resourcesync/pkg/mirror"
	"github.com/venturetrail/resourcesync/pkg/model"
	"github.com/venturetrail/resourcesync/pkg/queue"
	"github.com/venturetrail/resourcesync/pkg/reconcile"
	"github.com/venturetrail/resourcesync/pkg/resolve"
	"github.com/venturetrail/resourcesync/pkg/session"
	"github.com/venturetrail/resourcesync/pkg/store"
)

// Config assembles a Client. Store and Identity are required; every
// other field has a working default.
type Config struct {
	// Store is the remote persistence boundary.
	Store store.RemoteStore

	// Identity is the external auth service.
	Identity session.IdentityProvider

	// Storage backs the local mirror. Defaults to in-memory, which
	// still protects against remote outages within a process lifetime;
	// use mirror.OpenSQLite for durability across restarts.
	Storage mirror.Storage

	// Mapping translates legacy section titles to canonical keys.
	// Defaults to the built-in table; load overrides with
	// resolve.LoadMapping.
	Mapping *resolve.Mapping

	// Logger receives structured diagnostics. Nil means silent.
	Logger logger.Logger

	// Session, Reconcile, Queue and Gate tune the corresponding
	// subsystems; zero values select each one's defaults.
	Session   session.Config
	Reconcile reconcile.Config
	Queue     queue.Config
	Gate      gate.Config

	// OnAuthRequired runs when a save was deferred for lack of
	// identity, after the automatic sign-in resync has been armed.
	// Typically wired to a sign-in prompt.
	OnAuthRequired func()
}

// Client owns the shared save-reconciliation machinery. One Client
// serves any number of Resources; all their saves funnel through its
// single queue.
type Client struct {
	cfg      Config
	log      logger.Logger
	sessions *session.Gate
	mirror   *mirror.Mirror
	resolver *resolve.Resolver
	engine   *reconcile.Engine
	queue    *queue.Queue

	loadTimeout time.Duration

	mu        sync.Mutex
	resources map[string]*Resource
	closed    bool
}

// New validates cfg and wires a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, ErrMissingStore
	}
	if cfg.Identity == nil {
		return nil, ErrMissingIdentity
	}
	if cfg.Storage == nil {
		cfg.Storage = mirror.NewMemoryStorage()
	}
	if cfg.Mapping == nil {
		cfg.Mapping = resolve.DefaultMapping()
	}

	log := logger.OrNop(cfg.Logger)
	c := &Client{
		cfg:       cfg,
		log:       log,
		resources: make(map[string]*Resource),
	}

	c.loadTimeout = cfg.Reconcile.LoadTimeout
	if c.loadTimeout <= 0 {
		c.loadTimeout = 5 * time.Second
	}

	c.sessions = session.NewGate(cfg.Identity, cfg.Session, log)
	c.mirror = mirror.New(cfg.Storage, log)
	c.resolver = resolve.New(cfg.Store, cfg.Mapping, log)
	c.engine = reconcile.New(cfg.Store, c.mirror, c.sessions, c.resolver, cfg.Reconcile, log)

	qcfg := cfg.Queue
	userAuthCB := qcfg.OnAuthRequired
	qcfg.OnAuthRequired = func(item *queue.Item) {
		// Park-and-resume: the next sign-in kicks the queue so the
		// deferred save goes out without the user re-entering anything.
		c.sessions.ArmResync(c.queue.Kick)
		if userAuthCB != nil {
			userAuthCB(item)
		}
		if cfg.OnAuthRequired != nil {
			cfg.OnAuthRequired()
		}
	}
	c.queue = queue.New(c.persistItem, qcfg, log)

	return c, nil
}

// Resource returns the Resource for (scope, kind), creating it on
// first use. Subsequent calls with the same scope and kind return the
// same instance, so form remounts share lifecycle state.
func (c *Client) Resource(scope model.Scope, kind model.Kind) *Resource {
	key := mirror.Key(scope, kind)

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.resources[key]; ok {
		return r
	}
	r := &Resource{
		client: c,
		scope:  scope,
		kind:   kind,
	}
	r.gate = gate.New(r.submit, c.cfg.Gate, c.log)
	c.resources[key] = r
	return r
}

// Flush blocks until the save queue is idle or ctx expires. A queue
// parked awaiting sign-in does not become idle; callers that want to
// bound a flush across a sign-out should use a timeout.
func (c *Client) Flush(ctx context.Context) error {
	return c.queue.Wait(ctx)
}

// SaveStatus reports the queue's coarse state for status indicators.
func (c *Client) SaveStatus() model.SaveStatus {
	return c.queue.Status()
}

// PendingSaves returns the number of queued items.
func (c *Client) PendingSaves() int {
	return c.queue.Len()
}

// AuthPending reports whether a save is parked awaiting sign-in.
func (c *Client) AuthPending() bool {
	return c.queue.AuthParked()
}

// Identity returns the cached identity, nil when signed out.
func (c *Client) Identity() *model.Identity {
	return c.sessions.Current()
}

// Mirror exposes the local mirror, mainly for inspection tooling.
func (c *Client) Mirror() *mirror.Mirror {
	return c.mirror
}

// Close shuts down every Resource, the queue and the session listener.
// Pending queue items are dropped; their content survives in the
// mirror.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	resources := make([]*Resource, 0, len(c.resources))
	for _, r := range c.resources {
		resources = append(resources, r)
	}
	c.mu.Unlock()

	for _, r := range resources {
		r.gate.Close()
	}
	c.queue.Close()
	c.sessions.Close()
}

func (c *Client) persistItem(ctx context.Context, item *queue.Item) (model.Record, error) {
	return c.engine.Persist(ctx, item.Scope, item.Kind, item.Content, item.RecordID)
}
