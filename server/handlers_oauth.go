package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/obs-relay/telemetry"
)

// HandleDriveOAuthStart redirects the operator to the Google consent screen.
// The resulting token is installed into the credential store.
func (h *Handlers) HandleDriveOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.deps.Consent == nil || h.deps.Credentials == nil {
		http.Error(w, "drive oauth not configured (need GOOGLE_CLIENT_ID + GOOGLE_CLIENT_SECRET or GOOGLE_CRED_FILE)", http.StatusBadRequest)
		return
	}
	authURL := h.deps.Consent.BeginDetached(h.deps.Credentials.Install)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleDriveOAuthCallback completes a consent flow started by the start
// endpoint or by an upload that found no usable credential.
func (h *Handlers) HandleDriveOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.deps.Consent == nil {
		http.Error(w, "drive oauth not configured", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, "authorization denied: "+e, http.StatusBadRequest)
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if err := h.deps.Consent.Complete(r.Context(), state, code); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("drive oauth callback failed", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
