package server

import (
	"net/http"
	"time"

	"github.com/onnwee/obs-relay/archive"
)

type processView struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

type runView struct {
	RequestedAt  time.Time  `json:"requested_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Stage        string     `json:"stage"`
	Outcome      string     `json:"outcome"`
	Saved        bool       `json:"saved"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	ArtifactSize int64      `json:"artifact_size,omitempty"`
	UploadID     string     `json:"upload_id,omitempty"`
	UploadLink   string     `json:"upload_link,omitempty"`
	Deleted      bool       `json:"deleted"`
	Error        string     `json:"error,omitempty"`
	DeleteError  string     `json:"delete_error,omitempty"`
}

func newRunView(r *archive.Run) *runView {
	if r == nil {
		return nil
	}
	v := &runView{
		RequestedAt:  r.RequestedAt,
		Stage:        r.Stage.String(),
		Outcome:      r.Outcome.String(),
		Saved:        r.Saved,
		ArtifactPath: r.ArtifactPath,
		ArtifactSize: r.ArtifactSize,
		UploadID:     r.UploadID,
		UploadLink:   r.UploadLink,
		Deleted:      r.Deleted,
	}
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt
		v.FinishedAt = &t
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	if r.DeleteErr != nil {
		v.DeleteError = r.DeleteErr.Error()
	}
	return v
}

// HandleStatus returns a JSON snapshot. It never issues an RPC to OBS.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := h.deps.Control.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"obs_connected":   snap.Connected,
		"process":         processView{Running: snap.ProcessRunning, PID: snap.ProcessPID},
		"sink_configured": snap.SinkConfigured,
		"last_run":        newRunView(snap.LastRun),
	})
}
