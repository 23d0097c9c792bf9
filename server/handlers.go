// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/onnwee/obs-relay/control"
	"github.com/onnwee/obs-relay/db"
)

// Controller runs commands and reports status without side effects.
type Controller interface {
	Execute(ctx context.Context, name string, args []string, progress func(string)) control.Reply
	Snapshot() control.Snapshot
}

// Credentials is the upload sink token cache.
type Credentials interface {
	Peek(ctx context.Context) (*oauth2.Token, error)
	Install(ctx context.Context, tok *oauth2.Token) error
}

// Consent drives operator-initiated authorization.
type Consent interface {
	BeginDetached(install func(context.Context, *oauth2.Token) error) string
	Complete(ctx context.Context, state, code string) error
}

// RunHistory lists persisted archive runs.
type RunHistory interface {
	Recent(ctx context.Context, limit int) ([]db.RunRecord, error)
}

// Deps are the collaborators behind the routes. Credentials, Consent and
// Runs may be nil when the corresponding feature is disabled.
type Deps struct {
	Control     Controller
	Credentials Credentials
	Consent     Consent
	Runs        RunHistory
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err), slog.String("component", "http"))
	}
}
