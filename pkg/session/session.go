// Package session mediates access to the current authenticated
// identity. It retries flaky identity fetches with backoff, caches the
// result for a freshness window, listens for sign-in/sign-out events,
// and fires a one-shot resynchronization callback when a sign-in
// arrives after a save was deferred for lack of identity.
//
// Absence of identity is a normal condition here, not an error: every
// accessor returns nil and the caller decides whether that means
// "work offline" or "authentication needed".
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/venturetrail/resourcesync/pkg/logger"
	"github.com/venturetrail/resourcesync/pkg/model"
)

// IdentityProvider is the external auth service boundary.
type IdentityProvider interface {
	// CurrentIdentity returns the signed-in identity, nil when signed
	// out, or an error when the service could not be reached.
	CurrentIdentity(ctx context.Context) (*model.Identity, error)

	// Events delivers sign-in/sign-out notifications. A nil channel
	// is allowed and means the provider never notifies.
	Events() <-chan model.AuthEvent
}

// Config tunes a Gate. Zero values select the defaults.
type Config struct {
	// MaxTries bounds identity fetch attempts. Default 3.
	MaxTries int

	// RetryInterval is the initial backoff delay. Default 500ms,
	// doubling per attempt.
	RetryInterval time.Duration

	// TryTimeout bounds a single CurrentIdentity call. Default 4s.
	TryTimeout time.Duration

	// FreshFor is how long a cached identity satisfies
	// RequireIdentity without re-fetching. Default 5m.
	FreshFor time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxTries <= 0 {
		c.MaxTries = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
	if c.TryTimeout <= 0 {
		c.TryTimeout = 4 * time.Second
	}
	if c.FreshFor <= 0 {
		c.FreshFor = 5 * time.Minute
	}
	return c
}

// Gate is the retrying, caching identity accessor.
type Gate struct {
	provider IdentityProvider
	cfg      Config
	log      logger.Logger

	mu        sync.Mutex
	cached    *model.Identity
	fetchedAt time.Time
	resync    func()

	done      chan struct{}
	closeOnce sync.Once
}

// NewGate returns a Gate listening on the provider's event stream.
// Call Close to stop the listener.
func NewGate(provider IdentityProvider, cfg Config, log logger.Logger) *Gate {
	g := &Gate{
		provider: provider,
		cfg:      cfg.withDefaults(),
		log:      logger.OrNop(log),
		done:     make(chan struct{}),
	}
	go g.listen()
	return g
}

// FetchIdentity obtains the current identity, retrying service errors
// with exponential backoff up to the configured bound. It returns nil
// both when the provider definitively reports "signed out" and when
// all retries are exhausted; the system then falls back to
// mirror-only operation.
func (g *Gate) FetchIdentity(ctx context.Context) *model.Identity {
	var found *model.Identity
	attempt := func() error {
		tryCtx, cancel := context.WithTimeout(ctx, g.cfg.TryTimeout)
		defer cancel()
		id, err := g.provider.CurrentIdentity(tryCtx)
		if err != nil {
			return err
		}
		found = id
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.cfg.RetryInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.2
	policy.MaxInterval = g.cfg.TryTimeout
	policy.MaxElapsedTime = 0

	bounded := backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(g.cfg.MaxTries-1)), ctx)
	if err := backoff.Retry(attempt, bounded); err != nil {
		g.log.Warn("session: identity fetch exhausted retries", "error", err)
		return nil
	}

	g.mu.Lock()
	g.cached = found
	g.fetchedAt = time.Now()
	g.mu.Unlock()
	return found
}

// RequireIdentity returns a cached identity while fresh, fetching
// otherwise. A nil return means the caller's operation needs
// authentication; the gate itself performs no navigation or prompting.
func (g *Gate) RequireIdentity(ctx context.Context) *model.Identity {
	g.mu.Lock()
	if g.cached != nil && time.Since(g.fetchedAt) < g.cfg.FreshFor {
		id := g.cached
		g.mu.Unlock()
		return id
	}
	g.mu.Unlock()

	id := g.FetchIdentity(ctx)
	if id == nil {
		g.log.Debug("session: authentication needed")
	}
	return id
}

// Current returns the cached identity without fetching.
func (g *Gate) Current() *model.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cached
}

// ArmResync registers fn to run once on the next sign-in event. It is
// called when a save was deferred for lack of identity; the sign-in
// re-attempts that save without the user re-entering anything. A
// second call before the sign-in replaces the pending fn.
func (g *Gate) ArmResync(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resync = fn
}

// Close stops the event listener. The Gate remains usable for
// fetches afterwards but no longer observes sign-in events.
func (g *Gate) Close() {
	g.closeOnce.Do(func() { close(g.done) })
}

func (g *Gate) listen() {
	events := g.provider.Events()
	for {
		select {
		case <-g.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.handleEvent(ev)
		}
	}
}

func (g *Gate) handleEvent(ev model.AuthEvent) {
	g.mu.Lock()
	var resync func()
	switch ev.Type {
	case model.SignedIn:
		g.cached = ev.Identity
		g.fetchedAt = time.Now()
		resync = g.resync
		g.resync = nil
	case model.SignedOut:
		g.cached = nil
	}
	g.mu.Unlock()

	g.log.Debug("session: auth event", "type", string(ev.Type))
	if resync != nil {
		go resync()
	}
}
