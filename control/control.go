// Package control is the command surface over the capture application. It
// composes the launcher, the control connection and the archive pipeline,
// and it is the one place failures are turned into user-facing messages.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/onnwee/obs-relay/archive"
	"github.com/onnwee/obs-relay/bridge"
	"github.com/onnwee/obs-relay/fault"
	"github.com/onnwee/obs-relay/launcher"
	"github.com/onnwee/obs-relay/obsws"
	"github.com/onnwee/obs-relay/telemetry"
)

// Capture is the control connection as used by the command surface.
type Capture interface {
	EnsureConnected(ctx context.Context) error
	Disconnect() error
	State() obsws.State
	GetVersion(ctx context.Context) (obsws.Version, error)
	GetStats(ctx context.Context) (obsws.Stats, error)
	SetReplayBufferDuration(ctx context.Context, seconds int) error
	StartReplayBuffer(ctx context.Context) error
	StopReplayBuffer(ctx context.Context) error
	ReplayBufferActive(ctx context.Context) (bool, error)
	Quit(ctx context.Context) error
}

// Launcher is the process lifecycle manager.
type Launcher interface {
	Start(ctx context.Context) (*launcher.Handle, error)
	Stop(ctx context.Context) error
	Current() (*launcher.Handle, bool)
	Usage(ctx context.Context) (launcher.Usage, error)
}

// Archiver runs the save-and-archive pipeline.
type Archiver interface {
	RunNotify(ctx context.Context, onStage func(archive.Run)) *archive.Run
	SinkConfigured() bool
}

// Options tunes a Service.
type Options struct {
	// SpawnSettle is waited after spawning before the first connect attempt.
	SpawnSettle time.Duration
	// QuitTimeout bounds the best-effort Quit request in StopApp.
	QuitTimeout time.Duration
	// OnRun is called after every archive run (persistence, notifications).
	OnRun func(ctx context.Context, r *archive.Run)
}

// Service implements the commands.
type Service struct {
	capture  Capture
	launcher Launcher
	archiver Archiver
	pool     *bridge.Pool
	opts     Options

	// lifecycle serializes start, stop and connect so the single process
	// handle and session are never raced.
	lifecycle sync.Mutex

	mu      sync.Mutex
	lastRun *archive.Run
}

// New returns a Service.
func New(capture Capture, l Launcher, a Archiver, pool *bridge.Pool, opts Options) *Service {
	if opts.SpawnSettle < 0 {
		opts.SpawnSettle = 0
	}
	if opts.QuitTimeout <= 0 {
		opts.QuitTimeout = 3 * time.Second
	}
	return &Service{capture: capture, launcher: l, archiver: a, pool: pool, opts: opts}
}

const notConnected = "Not connected to OBS. Please start OBS first."

func (s *Service) track(ctx context.Context, name string, fn func(context.Context) Reply) Reply {
	ctx, span := telemetry.StartSpan(ctx, "control", "command."+name, telemetry.CommandAttr(name))
	defer span.End()
	start := time.Now()
	r := fn(ctx)
	res := "ok"
	if !r.OK {
		res = "error"
		telemetry.RecordError(span, errors.New(r.Text))
	} else {
		telemetry.SetSpanSuccess(span)
	}
	telemetry.RecordCommand(name, res, time.Since(start))
	telemetry.LoggerWithCorr(ctx).Info("command handled",
		slog.String("command", name),
		slog.Bool("ok", r.OK),
		slog.Duration("took", time.Since(start)),
		slog.String("component", "control"))
	return r
}

// connect opens the session under the lifecycle lock.
func (s *Service) connect(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.connectLocked(ctx)
}

func (s *Service) connectLocked(ctx context.Context) error {
	return bridge.Exec(ctx, s.pool, "connect", func() error { return s.capture.EnsureConnected(ctx) })
}

// StartApp launches the capture application and connects to it.
func (s *Service) StartApp(ctx context.Context) Reply {
	return s.track(ctx, "start_app", func(ctx context.Context) Reply {
		s.lifecycle.Lock()
		defer s.lifecycle.Unlock()

		_, err := bridge.Do(ctx, s.pool, "spawn", func() (*launcher.Handle, error) { return s.launcher.Start(ctx) })
		switch {
		case fault.Is(err, fault.AlreadyRunning):
			if cerr := s.connectLocked(ctx); cerr != nil {
				return fail("OBS is already running but couldn't connect. Make sure obs-websocket is enabled.")
			}
			return ok("OBS is already running and connected.")
		case fault.Is(err, fault.NotFound):
			return fail("OBS executable not found in common installation paths.")
		case err != nil:
			return fail("Failed to start OBS: " + fault.Cause(err))
		}

		if err := sleep(ctx, s.opts.SpawnSettle); err != nil {
			return fail("OBS started but the request was cancelled before connecting.")
		}
		if err := s.connectLocked(ctx); err != nil {
			return Reply{OK: false, Text: "OBS started but couldn't connect. Make sure obs-websocket is enabled."}
		}
		return ok("OBS started and connected successfully!")
	})
}

// StopApp asks OBS to quit, drops the session and terminates the tracked process.
func (s *Service) StopApp(ctx context.Context) Reply {
	return s.track(ctx, "stop_app", func(ctx context.Context) Reply {
		s.lifecycle.Lock()
		defer s.lifecycle.Unlock()

		connected := s.connectLocked(ctx) == nil
		var quitErr error
		if connected {
			qctx, cancel := context.WithTimeout(ctx, s.opts.QuitTimeout)
			// OBS may exit before answering; the reply is not awaited beyond the timeout.
			quitErr = bridge.Exec(qctx, s.pool, "quit", func() error { return s.capture.Quit(qctx) })
			cancel()
			_ = s.capture.Disconnect()
		}

		stopErr := bridge.Exec(ctx, s.pool, "terminate", func() error { return s.launcher.Stop(ctx) })
		stopped := stopErr == nil

		switch {
		case !connected && fault.Is(stopErr, fault.NotRunning):
			return fail("Not connected to OBS and no OBS process was started by this bot.")
		case stopErr != nil && !fault.Is(stopErr, fault.NotRunning):
			return fail("Failed to stop OBS: " + fault.Cause(stopErr))
		case connected && quitErr != nil && !stopped:
			return fail("Failed to stop OBS: " + fault.Cause(quitErr))
		}
		return ok("OBS stopped successfully!")
	})
}

// ConfigureBuffer sets the replay buffer length. Non-positive values are
// rejected before anything touches OBS.
func (s *Service) ConfigureBuffer(ctx context.Context, seconds int) Reply {
	return s.track(ctx, "configure_buffer", func(ctx context.Context) Reply {
		if seconds <= 0 {
			return fail("Replay buffer duration must be a positive number of seconds.")
		}
		if err := s.connect(ctx); err != nil {
			return fail(notConnected)
		}
		if err := bridge.Exec(ctx, s.pool, "set_profile_parameter", func() error {
			return s.capture.SetReplayBufferDuration(ctx, seconds)
		}); err != nil {
			return fail("Failed to configure replay buffer: " + fault.Cause(err))
		}
		return ok(fmt.Sprintf("Replay buffer duration set to %d seconds!", seconds))
	})
}

// StartBuffer starts the replay buffer.
func (s *Service) StartBuffer(ctx context.Context) Reply {
	return s.track(ctx, "start_buffer", func(ctx context.Context) Reply {
		if err := s.connect(ctx); err != nil {
			return fail(notConnected)
		}
		if err := bridge.Exec(ctx, s.pool, "start_replay", func() error { return s.capture.StartReplayBuffer(ctx) }); err != nil {
			return fail("Failed to start replay buffer: " + fault.Cause(err))
		}
		return ok("Replay buffer started!")
	})
}

// StopBuffer stops the replay buffer.
func (s *Service) StopBuffer(ctx context.Context) Reply {
	return s.track(ctx, "stop_buffer", func(ctx context.Context) Reply {
		if err := s.connect(ctx); err != nil {
			return fail(notConnected)
		}
		if err := bridge.Exec(ctx, s.pool, "stop_replay", func() error { return s.capture.StopReplayBuffer(ctx) }); err != nil {
			return fail("Failed to stop replay buffer: " + fault.Cause(err))
		}
		return ok("Replay buffer stopped!")
	})
}

// SaveAndArchive saves the replay buffer and archives the file. progress,
// when non-nil, receives interim messages (the upload notice).
func (s *Service) SaveAndArchive(ctx context.Context, progress func(string)) Reply {
	return s.track(ctx, "save_and_archive", func(ctx context.Context) Reply {
		if err := s.connect(ctx); err != nil {
			return fail(notConnected)
		}
		run := s.archiver.RunNotify(ctx, func(r archive.Run) {
			if progress != nil && r.Stage == archive.Uploading && s.archiver.SinkConfigured() {
				progress(fmt.Sprintf("Uploading `%s` (%.2f MB) to Google Drive...", filepath.Base(r.ArtifactPath), megabytes(r.ArtifactSize)))
			}
		})
		s.mu.Lock()
		s.lastRun = run
		s.mu.Unlock()
		if s.opts.OnRun != nil {
			s.opts.OnRun(ctx, run)
		}
		return RunReply(run)
	})
}

// RunReply maps a finished run to its message. Each outcome reads differently.
func RunReply(r *archive.Run) Reply {
	name := filepath.Base(r.ArtifactPath)
	switch r.Outcome {
	case archive.Success:
		if r.Deleted {
			return ok(fmt.Sprintf("Replay saved and uploaded to Google Drive! %s Local file deleted: `%s`", r.UploadLink, name))
		}
		return ok(fmt.Sprintf("Replay uploaded to Google Drive! %s Failed to delete local file: %v", r.UploadLink, r.DeleteErr))
	case archive.SavedOnly:
		if r.ArtifactPath == "" {
			return ok("Replay buffer saved! Google Drive upload not configured.")
		}
		return ok(fmt.Sprintf("Replay buffer saved as `%s`! Google Drive upload not configured.", name))
	case archive.LocateFailed:
		return Reply{OK: false, Text: "Replay buffer saved, but couldn't find the file for upload."}
	case archive.UploadFailed:
		if !r.Saved {
			return fail("Failed to save replay buffer: " + fault.Cause(r.Err))
		}
		return Reply{OK: false, Text: fmt.Sprintf("Replay saved locally as `%s`. Failed to upload to Google Drive: %s", name, fault.Cause(r.Err))}
	default:
		return fail("Replay buffer request did not finish.")
	}
}

// Status reports versions, frame rate, replay buffer state and, when the
// process was started here, its resource usage.
func (s *Service) Status(ctx context.Context) Reply {
	return s.track(ctx, "status", func(ctx context.Context) Reply {
		if err := s.connect(ctx); err != nil {
			return fail("Not connected to OBS.")
		}
		v, err := bridge.Do(ctx, s.pool, "get_version", func() (obsws.Version, error) { return s.capture.GetVersion(ctx) })
		if err != nil {
			return fail("Failed to get OBS status: " + fault.Cause(err))
		}
		st, err := bridge.Do(ctx, s.pool, "get_stats", func() (obsws.Stats, error) { return s.capture.GetStats(ctx) })
		if err != nil {
			return fail("Failed to get OBS status: " + fault.Cause(err))
		}

		card := &Card{Title: "OBS Status"}
		card.Add("OBS Version", v.OBSVersion).
			Add("WebSocket Version", v.OBSWebSocketVersion).
			Add("FPS", fmt.Sprintf("%.2f", st.ActiveFPS))

		replay := "unknown"
		if active, err := bridge.Do(ctx, s.pool, "replay_status", func() (bool, error) { return s.capture.ReplayBufferActive(ctx) }); err == nil {
			replay = "inactive"
			if active {
				replay = "active"
			}
		}
		card.Add("Replay Buffer", replay)

		if h, running := s.launcher.Current(); running {
			proc := fmt.Sprintf("pid %d", h.PID)
			if u, err := bridge.Do(ctx, s.pool, "process_usage", func() (launcher.Usage, error) { return s.launcher.Usage(ctx) }); err == nil {
				proc += fmt.Sprintf(", %.1f%% CPU, %.0f MB", u.CPUPercent, megabytes(int64(u.RSSBytes)))
			}
			card.Add("Process", proc)
		}
		return Reply{OK: true, Text: card.Line(), Card: card}
	})
}

// Snapshot is a side-effect-free view for health and status endpoints.
type Snapshot struct {
	Connected      bool
	ProcessPID     int
	ProcessRunning bool
	SinkConfigured bool
	LastRun        *archive.Run
}

// Snapshot never issues an RPC.
func (s *Service) Snapshot() Snapshot {
	snap := Snapshot{
		Connected:      s.capture.State() == obsws.Connected,
		SinkConfigured: s.archiver.SinkConfigured(),
	}
	if h, running := s.launcher.Current(); running {
		snap.ProcessPID, snap.ProcessRunning = h.PID, true
	}
	s.mu.Lock()
	if s.lastRun != nil {
		r := *s.lastRun
		snap.LastRun = &r
	}
	s.mu.Unlock()
	return snap
}

func megabytes(n int64) float64 { return float64(n) / (1024 * 1024) }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
