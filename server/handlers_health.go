package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// HandleHealthz is the liveness probe; the process answering is enough.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the control connection is up and, when
// uploads are enabled, a usable credential is cached.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"obs_connection", func(context.Context) error {
			if !h.deps.Control.Snapshot().Connected {
				return errors.New("not connected to OBS")
			}
			return nil
		}},
		{"credentials", h.checkCredentials},
	}

	for _, check := range checks {
		if err := check.fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handlers) checkCredentials(ctx context.Context) error {
	if h.deps.Credentials == nil {
		return nil
	}
	tok, err := h.deps.Credentials.Peek(ctx)
	if err != nil {
		return err
	}
	if tok == nil {
		return errors.New("no stored credential; visit /auth/drive/start")
	}
	if tok.RefreshToken == "" && !tok.Expiry.IsZero() && time.Now().After(tok.Expiry) {
		return errors.New("credential expired and cannot be refreshed")
	}
	return nil
}
