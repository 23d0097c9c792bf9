package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/onnwee/obs-relay/control"
	"github.com/onnwee/obs-relay/telemetry"
)

type commandRequest struct {
	Args []string `json:"args"`
}

// HandleAdminCommand runs one command, e.g. POST /admin/obs/obs_configure_replay?args=30.
// Arguments come from the "args" query parameter or a JSON body {"args": [...]}.
func (h *Handlers) HandleAdminCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.ToLower(r.PathValue("command"))
	if !control.Known(name) {
		http.Error(w, "unknown command", http.StatusNotFound)
		return
	}

	args := strings.Fields(r.URL.Query().Get("args"))
	if r.ContentLength != 0 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body commandRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if len(body.Args) > 0 {
			args = body.Args
		}
	}

	var (
		mu       sync.Mutex
		progress []string
	)
	telemetry.LoggerWithCorr(r.Context()).Info("admin command", slog.String("command", name), slog.String("component", "http"))
	reply := h.deps.Control.Execute(r.Context(), name, args, func(m string) {
		mu.Lock()
		progress = append(progress, m)
		mu.Unlock()
	})

	resp := map[string]any{"ok": reply.OK, "text": reply.Text}
	if reply.Card != nil {
		resp["text"] = reply.Card.Line()
		fields := make(map[string]string, len(reply.Card.Fields))
		for _, f := range reply.Card.Fields {
			fields[f.Name] = f.Value
		}
		resp["card"] = map[string]any{"title": reply.Card.Title, "fields": fields}
	}
	mu.Lock()
	if len(progress) > 0 {
		resp["progress"] = progress
	}
	mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

// HandleAdminRuns lists recent archive runs when run history is enabled.
func (h *Handlers) HandleAdminRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Runs == nil {
		http.Error(w, "run history disabled (requires DB_DSN)", http.StatusNotFound)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	runs, err := h.deps.Runs.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
