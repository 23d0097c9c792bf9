package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Broker runs the browser-based authorization code flow. Consent publishes
// an authorization URL through the announce hook and blocks until the HTTP
// callback hands the matching state and code to Complete.
type Broker struct {
	cfg      *oauth2.Config
	timeout  time.Duration
	announce func(authURL string)

	mu      sync.Mutex
	pending map[string]*pendingConsent
}

type pendingConsent struct {
	created time.Time
	done    chan consentResult                         // nil for detached flows
	install func(context.Context, *oauth2.Token) error // detached flows only
}

type consentResult struct {
	tok *oauth2.Token
	err error
}

// NewBroker returns a broker. announce receives every authorization URL;
// when nil the URL is only logged.
func NewBroker(cfg *oauth2.Config, timeout time.Duration, announce func(string)) *Broker {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Broker{cfg: cfg, timeout: timeout, announce: announce, pending: make(map[string]*pendingConsent)}
}

// AuthURL builds the offline-access consent URL for state.
func (b *Broker) AuthURL(state string) string {
	return b.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Consent waits for the operator to authorize. It is a ConsentFunc.
func (b *Broker) Consent(ctx context.Context) (*oauth2.Token, error) {
	state := uuid.NewString()
	p := &pendingConsent{created: time.Now(), done: make(chan consentResult, 1)}
	b.mu.Lock()
	b.pruneLocked()
	b.pending[state] = p
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, state)
		b.mu.Unlock()
	}()

	url := b.AuthURL(state)
	slog.Info("authorization required for upload sink", slog.String("auth_url", url), slog.String("component", "oauth"))
	if b.announce != nil {
		b.announce(url)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	select {
	case r := <-p.done:
		return r.tok, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("consent not completed: %w", ctx.Err())
	}
}

// BeginDetached starts a flow nobody waits on; the resulting token is
// passed to install. It returns the authorization URL.
func (b *Broker) BeginDetached(install func(context.Context, *oauth2.Token) error) string {
	state := uuid.NewString()
	b.mu.Lock()
	b.pruneLocked()
	b.pending[state] = &pendingConsent{created: time.Now(), install: install}
	b.mu.Unlock()
	return b.AuthURL(state)
}

// Complete exchanges code for the flow identified by state.
func (b *Broker) Complete(ctx context.Context, state, code string) error {
	b.mu.Lock()
	p, ok := b.pending[state]
	if ok {
		delete(b.pending, state)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown or expired oauth state")
	}
	if code == "" {
		err := fmt.Errorf("callback carried no authorization code")
		b.finish(p, nil, err)
		return err
	}

	tok, err := b.cfg.Exchange(ctx, code)
	if err != nil {
		err = fmt.Errorf("exchange code: %w", err)
		b.finish(p, nil, err)
		return err
	}
	// Any upload blocked in Consent is satisfied by this code too, whichever
	// link the operator followed. Waiters are released before install runs,
	// since install may need the lock a waiting store holds.
	b.releaseWaiters(tok)
	if p.install != nil {
		if err := p.install(ctx, tok); err != nil {
			return fmt.Errorf("install token: %w", err)
		}
	}
	b.finish(p, tok, nil)
	return nil
}

// Pending reports how many flows await a callback.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	return len(b.pending)
}

func (b *Broker) finish(p *pendingConsent, tok *oauth2.Token, err error) {
	if p.done != nil {
		p.done <- consentResult{tok: tok, err: err}
	}
}

// releaseWaiters hands a copy of tok to every blocked Consent call.
func (b *Broker) releaseWaiters(tok *oauth2.Token) {
	b.mu.Lock()
	var waiters []*pendingConsent
	for k, p := range b.pending {
		if p.done != nil {
			waiters = append(waiters, p)
			delete(b.pending, k)
		}
	}
	b.mu.Unlock()
	for _, w := range waiters {
		cp := *tok
		w.done <- consentResult{tok: &cp}
	}
}

func (b *Broker) pruneLocked() {
	for k, p := range b.pending {
		if p.done == nil && time.Since(p.created) > b.timeout {
			delete(b.pending, k)
		}
	}
}
