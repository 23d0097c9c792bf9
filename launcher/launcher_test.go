package launcher

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/obs-relay/fault"
)

// fakeCapture writes a shell script that ignores its arguments and sleeps.
func fakeCapture(t *testing.T) string {
	t.Helper()
	return writeCapture(t, "#!/bin/sh\nexec sleep 30\n")
}

func writeCapture(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script executables not supported on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "obs64")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake executable: %v", err)
	}
	return path
}

type stubProbe struct {
	pids []int
}

func (s stubProbe) FindByName(ctx context.Context, name string) ([]int, error) { return s.pids, nil }
func (s stubProbe) Usage(ctx context.Context, pid int) (Usage, error) {
	return Usage{CPUPercent: 1.5, RSSBytes: 1024}, nil
}

func TestStartNotFoundHasNoSideEffects(t *testing.T) {
	m := New(Options{Paths: []string{filepath.Join(t.TempDir(), "missing.exe")}, Probe: stubProbe{}})
	h, err := m.Start(context.Background())
	if !fault.Is(err, fault.NotFound) {
		t.Fatalf("Start() error = %v, want NotFound", err)
	}
	if h != nil {
		t.Error("Start() returned a handle on NotFound")
	}
	if _, ok := m.Current(); ok {
		t.Error("no handle should be tracked after NotFound")
	}
}

func TestLocateSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "second")
	if err := os.WriteFile(file, []byte("x"), 0o755); err != nil {
		t.Fatal(err)
	}
	m := New(Options{Paths: []string{dir, file}})
	got, err := m.Locate()
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if got != file {
		t.Errorf("Locate() = %q, want %q", got, file)
	}
}

func TestStartAndStop(t *testing.T) {
	exe := fakeCapture(t)
	m := New(Options{Paths: []string{exe}, StopGrace: 2 * time.Second, Probe: stubProbe{}})

	h, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h.PID <= 0 || !h.Running() {
		t.Fatalf("unexpected handle: pid=%d running=%v", h.PID, h.Running())
	}
	if u, err := m.Usage(context.Background()); err != nil || u.RSSBytes != 1024 {
		t.Errorf("Usage() = %+v, %v", u, err)
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-h.Exited():
	case <-time.After(3 * time.Second):
		t.Fatal("process did not exit after Stop")
	}
	if _, ok := m.Current(); ok {
		t.Error("handle should be cleared after Stop")
	}
	if err := m.Stop(context.Background()); !fault.Is(err, fault.NotRunning) {
		t.Errorf("second Stop() error = %v, want NotRunning", err)
	}
}

func TestStopCancelledWaitsForExit(t *testing.T) {
	// ignores SIGTERM so only the kill ends it
	exe := writeCapture(t, "#!/bin/sh\ntrap '' TERM\nexec sleep 30\n")
	m := New(Options{Paths: []string{exe}, StopGrace: time.Minute, Probe: stubProbe{}})
	h, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if time.Since(start) > killWait+time.Second {
		t.Fatalf("Stop() took %v", time.Since(start))
	}
	if h.Running() {
		t.Fatal("handle cleared while the process was still running")
	}
	if h.ExitErr() == nil {
		t.Error("killed process should report an exit error")
	}

	h2, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("restart error = %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	if h2.PID == h.PID {
		t.Fatal("restart reused the old handle")
	}
}

func TestConcurrentStartTracksOneHandle(t *testing.T) {
	exe := fakeCapture(t)
	m := New(Options{Paths: []string{exe}, StopGrace: 2 * time.Second, Probe: stubProbe{}})
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Start(context.Background())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	started, already := 0, 0
	for err := range results {
		switch {
		case err == nil:
			started++
		case fault.Is(err, fault.AlreadyRunning):
			already++
		default:
			t.Errorf("unexpected Start() error: %v", err)
		}
	}
	if started != 1 {
		t.Errorf("spawned %d processes, want exactly 1", started)
	}
	if already != callers-1 {
		t.Errorf("AlreadyRunning count = %d, want %d", already, callers-1)
	}
}

func TestStartRefusesUntrackedInstance(t *testing.T) {
	exe := fakeCapture(t)
	m := New(Options{Paths: []string{exe}, DetectExternal: true, Probe: stubProbe{pids: []int{4242}}})
	_, err := m.Start(context.Background())
	if !fault.Is(err, fault.AlreadyRunning) {
		t.Fatalf("Start() error = %v, want AlreadyRunning", err)
	}
	if _, ok := m.Current(); ok {
		t.Error("untracked instance must not become a tracked handle")
	}
}

func TestStopWithoutHandle(t *testing.T) {
	m := New(Options{Probe: stubProbe{}})
	if err := m.Stop(context.Background()); !fault.Is(err, fault.NotRunning) {
		t.Errorf("Stop() error = %v, want NotRunning", err)
	}
}

func TestProcessName(t *testing.T) {
	if got := processName(`C:\Program Files\obs-studio\bin\64bit\obs64.exe`); got != "obs64.exe" {
		t.Errorf("processName() = %q", got)
	}
	if got := processName("/usr/bin/obs"); got != "obs" {
		t.Errorf("processName() = %q", got)
	}
}
