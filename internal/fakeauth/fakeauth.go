// Package fakeauth provides a scriptable identity provider for tests:
// a settable current identity, injectable fetch failures, and a
// hand-driven auth event stream.
package fakeauth

import (
	"context"
	"sync"

	"github.com/venturetrail/resourcesync/pkg/model"
)

// Provider implements session.IdentityProvider.
type Provider struct {
	mu       sync.Mutex
	identity *model.Identity
	failNext int
	err      error
	calls    int

	events chan model.AuthEvent
}

// New returns a Provider with no identity and an open event stream.
func New() *Provider {
	return &Provider{events: make(chan model.AuthEvent, 8)}
}

// SetIdentity sets the identity returned by CurrentIdentity. Nil means
// signed out.
func (p *Provider) SetIdentity(id *model.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = id
}

// FailNext makes the next n CurrentIdentity calls return err.
func (p *Provider) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
	p.err = err
}

// Calls returns how many times CurrentIdentity has been invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failNext > 0 {
		p.failNext--
		return nil, p.err
	}
	return p.identity, nil
}

func (p *Provider) Events() <-chan model.AuthEvent {
	return p.events
}

// SignIn sets the identity and emits a signed_in event.
func (p *Provider) SignIn(id *model.Identity) {
	p.SetIdentity(id)
	p.events <- model.AuthEvent{Type: model.SignedIn, Identity: id}
}

// SignOut clears the identity and emits a signed_out event.
func (p *Provider) SignOut() {
	p.SetIdentity(nil)
	p.events <- model.AuthEvent{Type: model.SignedOut}
}
