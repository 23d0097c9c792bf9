// Package launcher starts, tracks and terminates the capture application
// process. It only ever signals the process it spawned itself; untracked
// instances are detected (to refuse duplicate spawns) but never terminated.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/onnwee/obs-relay/fault"
	"github.com/onnwee/obs-relay/telemetry"
)

// DefaultPaths are the usual OBS Studio install locations on Windows, in
// search order.
var DefaultPaths = []string{
	`C:\Program Files\obs-studio\bin\64bit\obs64.exe`,
	`C:\Program Files (x86)\obs-studio\bin\64bit\obs64.exe`,
}

// DefaultArgs launches OBS without stealing focus.
var DefaultArgs = []string{"--minimize-to-tray"}

// DefaultStopGrace is how long Stop waits after a polite termination request
// before killing the process.
const DefaultStopGrace = 5 * time.Second

// killWait bounds the wait for a killed process to be reaped.
const killWait = 2 * time.Second

// Handle references a spawned capture process.
type Handle struct {
	PID       int
	Path      string
	StartedAt time.Time

	cmd    *exec.Cmd
	exited chan struct{}
	err    error // exit status, valid once exited is closed
}

// Running reports whether the process has not exited yet.
func (h *Handle) Running() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// Exited is closed when the process exits.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// ExitErr returns the process exit error once Exited is closed.
func (h *Handle) ExitErr() error {
	select {
	case <-h.exited:
		return h.err
	default:
		return nil
	}
}

// Options configures a Manager.
type Options struct {
	// Paths are the candidate executables, tried in order.
	Paths []string
	// Args are passed to the executable.
	Args []string
	// DetectExternal refuses to spawn when a process with the executable's
	// base name is already running untracked.
	DetectExternal bool
	// StopGrace bounds the wait between terminate and kill.
	StopGrace time.Duration
	// Probe inspects OS processes; defaults to a gopsutil-backed probe.
	Probe Probe
}

// Manager owns the single tracked process handle.
type Manager struct {
	mu     sync.Mutex
	opts   Options
	handle *Handle
	probe  Probe
}

// New returns a Manager. Zero-value options fall back to the package defaults.
func New(opts Options) *Manager {
	if len(opts.Paths) == 0 {
		opts.Paths = DefaultPaths
	}
	if opts.Args == nil {
		opts.Args = DefaultArgs
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	probe := opts.Probe
	if probe == nil {
		probe = SystemProbe{}
	}
	return &Manager{opts: opts, probe: probe}
}

// Locate returns the first candidate path that exists as a regular file.
func (m *Manager) Locate() (string, error) {
	for _, p := range m.opts.Paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fault.Newf(fault.NotFound, "launcher.start", "capture executable not found in %d known locations", len(m.opts.Paths))
}

// Start spawns the capture application. The manager lock is held for the
// whole lookup-and-spawn so concurrent callers cannot both spawn.
func (m *Manager) Start(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle.Running() {
		telemetry.RecordSpawn("already_running")
		return m.handle, fault.Newf(fault.AlreadyRunning, "launcher.start", "capture application already running (pid %d)", m.handle.PID)
	}
	m.handle = nil

	path, err := m.Locate()
	if err != nil {
		telemetry.RecordSpawn("not_found")
		return nil, err
	}

	if m.opts.DetectExternal {
		pids, err := m.probe.FindByName(ctx, processName(path))
		if err != nil {
			slog.Debug("external instance probe failed", slog.Any("err", err), slog.String("component", "launcher"))
		} else if len(pids) > 0 {
			telemetry.RecordSpawn("already_running")
			return nil, fault.Newf(fault.AlreadyRunning, "launcher.start", "untracked capture instance already running (pid %d)", pids[0])
		}
	}

	cmd := exec.Command(path, m.opts.Args...)
	cmd.Dir = filepath.Dir(path)
	if err := cmd.Start(); err != nil {
		telemetry.RecordSpawn("spawn_failed")
		return nil, fault.New(fault.SpawnFailed, "launcher.start", err)
	}

	h := &Handle{
		PID:       cmd.Process.Pid,
		Path:      path,
		StartedAt: time.Now(),
		cmd:       cmd,
		exited:    make(chan struct{}),
	}
	go func() {
		h.err = cmd.Wait()
		close(h.exited)
		telemetry.SetProcessRunning(false)
		slog.Info("capture process exited", slog.Int("pid", h.PID), slog.Any("err", h.err), slog.String("component", "launcher"))
	}()
	m.handle = h

	telemetry.RecordSpawn("ok")
	telemetry.SetProcessRunning(true)
	slog.Info("capture process started", slog.Int("pid", h.PID), slog.String("path", path), slog.String("component", "launcher"))
	return h, nil
}

// Stop terminates the tracked process and clears the handle.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.handle
	if !h.Running() {
		m.handle = nil
		return fault.Newf(fault.NotRunning, "launcher.stop", "no tracked capture process")
	}

	if err := terminate(h.cmd.Process); err != nil {
		slog.Debug("terminate signal failed, killing", slog.Int("pid", h.PID), slog.Any("err", err), slog.String("component", "launcher"))
		_ = h.cmd.Process.Kill()
	}

	select {
	case <-h.exited:
	case <-time.After(m.opts.StopGrace):
		slog.Warn("capture process ignored terminate, killing", slog.Int("pid", h.PID), slog.String("component", "launcher"))
		_ = h.cmd.Process.Kill()
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
	}

	// The handle stays tracked until the process is reaped so a following
	// Start cannot spawn next to it.
	select {
	case <-h.exited:
	case <-time.After(killWait):
		return fault.Newf(fault.AlreadyRunning, "launcher.stop", "capture process did not exit after kill (pid %d)", h.PID)
	}

	m.handle = nil
	slog.Info("capture process stopped", slog.Int("pid", h.PID), slog.Any("exit", h.ExitErr()), slog.String("component", "launcher"))
	return nil
}

// Current returns the tracked handle if its process is still running.
func (m *Manager) Current() (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle.Running() {
		return m.handle, true
	}
	return nil, false
}

// Usage samples resource usage of the tracked process.
func (m *Manager) Usage(ctx context.Context) (Usage, error) {
	h, ok := m.Current()
	if !ok {
		return Usage{}, fault.Newf(fault.NotRunning, "launcher.usage", "no tracked capture process")
	}
	u, err := m.probe.Usage(ctx, h.PID)
	if err != nil {
		return Usage{}, fmt.Errorf("sample pid %d: %w", h.PID, err)
	}
	return u, nil
}

func terminate(p *os.Process) error {
	if runtime.GOOS == "windows" {
		return errors.New("terminate signal unsupported on windows")
	}
	return p.Signal(syscall.SIGTERM)
}

// processName is the name the OS reports for the executable at path.
func processName(path string) string {
	return filepath.Base(strings.ReplaceAll(path, `\`, "/"))
}
