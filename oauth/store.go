// Package oauth keeps the upload sink's OAuth2 credential valid. The Store
// loads a cached token lazily, refreshes it at most once per request when it
// has expired, falls back to interactive consent, and persists every new
// token through a BlobStore.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/obs-relay/fault"
	"github.com/onnwee/obs-relay/telemetry"
)

// ErrNoBlob is returned by BlobStore.Load when nothing has been saved yet.
var ErrNoBlob = errors.New("no stored credential")

// BlobStore persists one opaque credential blob.
type BlobStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}

// RefreshFunc exchanges a refresh token for a new token.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// ConsentFunc runs the interactive authorization flow.
type ConsentFunc func(ctx context.Context) (*oauth2.Token, error)

// ConfigRefresher refreshes through the token endpoint of cfg.
func ConfigRefresher(cfg *oauth2.Config) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	}
}

// Store is the credential store.
type Store struct {
	blobs   BlobStore
	refresh RefreshFunc
	consent ConsentFunc

	flow sync.Mutex // serializes refresh/consent/install

	mu     sync.Mutex
	tok    *oauth2.Token
	loaded bool
}

// NewStore returns a store. consent may be nil, in which case a missing or
// unrefreshable credential is an AuthFailed error.
func NewStore(blobs BlobStore, refresh RefreshFunc, consent ConsentFunc) *Store {
	return &Store{blobs: blobs, refresh: refresh, consent: consent}
}

// GetValidCredential returns a non-expired token. A valid cached token is
// returned with no side effects.
func (s *Store) GetValidCredential(ctx context.Context) (*oauth2.Token, error) {
	const op = "oauth.credential"
	s.flow.Lock()
	defer s.flow.Unlock()

	tok, err := s.cached(ctx)
	if err != nil {
		return nil, fault.New(fault.AuthFailed, op, err)
	}
	if tok != nil && tok.Valid() {
		return tok, nil
	}

	if tok != nil && tok.RefreshToken != "" && s.refresh != nil {
		fresh, err := s.doRefresh(ctx, tok)
		if err == nil {
			return fresh, nil
		}
		slog.Warn("credential refresh failed, falling back to consent", slog.Any("err", err), slog.String("component", "oauth"))
	}

	if s.consent == nil {
		return nil, fault.Newf(fault.AuthFailed, op, "no valid credential and interactive consent is unavailable")
	}
	fresh, err := s.consent(ctx)
	telemetry.RecordConsent(err == nil)
	if err != nil {
		return nil, fault.New(fault.AuthFailed, op, fmt.Errorf("consent: %w", err))
	}
	if fresh == nil || fresh.AccessToken == "" {
		return nil, fault.Newf(fault.AuthFailed, op, "consent returned no access token")
	}
	_ = s.persist(ctx, fresh)
	return fresh, nil
}

// Install stores a token obtained elsewhere (operator consent, import).
func (s *Store) Install(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return fault.Newf(fault.InvalidInput, "oauth.install", "token has no access token")
	}
	s.flow.Lock()
	defer s.flow.Unlock()
	if tok.RefreshToken == "" {
		if old, _ := s.cached(ctx); old != nil {
			tok.RefreshToken = old.RefreshToken
		}
	}
	return s.persist(ctx, tok)
}

// RefreshIfExpiring refreshes the cached token when it expires within
// window. It never starts interactive consent. It reports whether a refresh
// happened.
func (s *Store) RefreshIfExpiring(ctx context.Context, window time.Duration) (bool, error) {
	s.flow.Lock()
	defer s.flow.Unlock()
	tok, err := s.cached(ctx)
	if err != nil || tok == nil || tok.RefreshToken == "" || s.refresh == nil {
		return false, err
	}
	if tok.Expiry.IsZero() || time.Until(tok.Expiry) > window {
		return false, nil
	}
	if _, err := s.doRefresh(ctx, tok); err != nil {
		return false, err
	}
	return true, nil
}

// Peek returns the cached token, if any, without refreshing it.
func (s *Store) Peek(ctx context.Context) (*oauth2.Token, error) {
	return s.cached(ctx)
}

func (s *Store) doRefresh(ctx context.Context, old *oauth2.Token) (*oauth2.Token, error) {
	fresh, err := s.refresh(ctx, old.RefreshToken)
	telemetry.RecordRefresh(err == nil)
	if err != nil {
		return nil, err
	}
	if fresh == nil || fresh.AccessToken == "" {
		return nil, fmt.Errorf("refresh returned no access token")
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = old.RefreshToken
	}
	_ = s.persist(ctx, fresh)
	slog.Info("credential refreshed", slog.Time("expiry", fresh.Expiry), slog.String("component", "oauth"))
	return fresh, nil
}

// cached loads the blob on first use.
func (s *Store) cached(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.tok, nil
	}
	blob, err := s.blobs.Load(ctx)
	if errors.Is(err, ErrNoBlob) {
		s.loaded = true
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(blob, &tok); err != nil {
		// a corrupt cache is treated as absent so consent can replace it
		slog.Warn("discarding unreadable credential cache", slog.Any("err", err), slog.String("component", "oauth"))
		s.loaded = true
		return nil, nil
	}
	s.tok, s.loaded = &tok, true
	return s.tok, nil
}

// persist updates the in-memory copy and writes the blob. A write failure
// is logged; the token is still usable for this process.
func (s *Store) persist(ctx context.Context, tok *oauth2.Token) error {
	s.mu.Lock()
	s.tok, s.loaded = tok, true
	s.mu.Unlock()

	blob, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := s.blobs.Save(ctx, blob); err != nil {
		slog.Warn("credential persist failed", slog.Any("err", err), slog.String("component", "oauth"))
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}
