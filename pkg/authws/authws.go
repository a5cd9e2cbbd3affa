// Package authws implements session.IdentityProvider against an auth
// service that exposes a REST endpoint for the current identity and a
// websocket feed for sign-in/sign-out events. The feed connection is
// re-established with exponential backoff, so a dropped socket
// degrades to polling semantics instead of silently losing events.
package authws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gorilla "github.com/gorilla/websocket"

	"github.com/venturetrail/resourcesync/pkg/logger"
	"github.com/venturetrail/resourcesync/pkg/model"
)

// ErrClosed is returned by CurrentIdentity after Close.
var ErrClosed = errors.New("authws: provider closed")

// Config locates the auth service.
type Config struct {
	// IdentityURL is the REST endpoint returning the signed-in user,
	// 401 or 204 when there is none.
	IdentityURL string

	// EventsURL is the websocket endpoint streaming auth events. Empty
	// disables the feed; the provider then never notifies.
	EventsURL string

	// APIKey is sent as a bearer token on both endpoints.
	APIKey string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// DialTimeout bounds one websocket dial. Default 10s.
	DialTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnect
	// attempts, growing exponentially up to MaxReconnectInterval.
	// Defaults 1s and 30s.
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration

	// EventBuffer is the event channel capacity. Default 16.
	EventBuffer int
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = time.Second
	}
	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = 30 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 16
	}
	return c
}

// Provider is the live IdentityProvider. Create with New, stop with
// Close.
type Provider struct {
	cfg Config
	log logger.Logger

	events chan model.AuthEvent

	done      chan struct{}
	closeOnce sync.Once
}

// New validates cfg and, when an events URL is configured, starts the
// feed listener.
func New(cfg Config, log logger.Logger) (*Provider, error) {
	if cfg.IdentityURL == "" {
		return nil, errors.New("authws: Config.IdentityURL is required")
	}
	cfg = cfg.withDefaults()
	p := &Provider{
		cfg:    cfg,
		log:    logger.OrNop(log),
		events: make(chan model.AuthEvent, cfg.EventBuffer),
		done:   make(chan struct{}),
	}
	if p.cfg.EventsURL != "" {
		go p.run()
	}
	return p, nil
}

type identityPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Token string `json:"token"`
}

// CurrentIdentity fetches the signed-in user. nil with no error means
// signed out; an error means the service could not answer and the
// caller may retry.
func (p *Provider) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.IdentityURL, nil)
	if err != nil {
		return nil, fmt.Errorf("authws: build request: %w", err)
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authws: identity request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("authws: identity request: unexpected status %d", resp.StatusCode)
	}

	var payload identityPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("authws: decode identity: %w", err)
	}
	if payload.ID == "" {
		return nil, nil
	}
	return &model.Identity{ID: payload.ID, Email: payload.Email, Token: payload.Token}, nil
}

// Events implements session.IdentityProvider.
func (p *Provider) Events() <-chan model.AuthEvent {
	return p.events
}

// Close stops the feed listener and fails subsequent identity calls.
func (p *Provider) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

type eventFrame struct {
	Type     string           `json:"type"`
	Identity *identityPayload `json:"identity,omitempty"`
}

// run dials the event feed and pumps frames until Close, reconnecting
// with backoff after any failure.
func (p *Provider) run() {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.ReconnectInterval
	policy.MaxInterval = p.cfg.MaxReconnectInterval
	policy.MaxElapsedTime = 0

	for {
		select {
		case <-p.done:
			return
		default:
		}

		conn, err := p.dial()
		if err != nil {
			delay := policy.NextBackOff()
			p.log.Warn("authws: event feed dial failed", "error", err, "retry_in", delay.String())
			select {
			case <-p.done:
				return
			case <-time.After(delay):
			}
			continue
		}

		policy.Reset()
		p.pump(conn)
		conn.Close()
	}
}

func (p *Provider) dial() (*gorilla.Conn, error) {
	dialer := *gorilla.DefaultDialer
	dialer.HandshakeTimeout = p.cfg.DialTimeout

	header := http.Header{}
	if p.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	conn, resp, err := dialer.Dial(p.cfg.EventsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// pump reads frames until the connection breaks or the provider
// closes. A Close while blocked in ReadMessage is unblocked by the
// watcher closing the connection out from under the read.
func (p *Provider) pump(conn *gorilla.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-p.done:
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
			default:
				p.log.Warn("authws: event feed read failed", "error", err)
			}
			return
		}

		var frame eventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			p.log.Warn("authws: malformed event frame", "error", err)
			continue
		}
		ev, ok := p.toEvent(frame)
		if !ok {
			continue
		}

		select {
		case p.events <- ev:
		default:
			// The consumer stalled; dropping is safer than wedging the
			// read loop, and the identity endpoint remains the source
			// of truth.
			p.log.Warn("authws: event buffer full, dropping event", "type", string(ev.Type))
		}
	}
}

func (p *Provider) toEvent(frame eventFrame) (model.AuthEvent, bool) {
	switch model.AuthEventType(frame.Type) {
	case model.SignedIn:
		if frame.Identity == nil || frame.Identity.ID == "" {
			p.log.Warn("authws: signed_in event without identity")
			return model.AuthEvent{}, false
		}
		return model.AuthEvent{
			Type: model.SignedIn,
			Identity: &model.Identity{
				ID:    frame.Identity.ID,
				Email: frame.Identity.Email,
				Token: frame.Identity.Token,
			},
		}, true
	case model.SignedOut:
		return model.AuthEvent{Type: model.SignedOut}, true
	default:
		p.log.Debug("authws: ignoring event", "type", frame.Type)
		return model.AuthEvent{}, false
	}
}
