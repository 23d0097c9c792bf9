package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/obs-relay/bridge"
	"github.com/onnwee/obs-relay/fault"
)

type fakeCapture struct {
	saveErr error
	dir     string
	dirErr  error
	saves   int
	mu      sync.Mutex
}

func (f *fakeCapture) SaveReplayBuffer(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return f.saveErr
}

func (f *fakeCapture) GetRecordDirectory(context.Context) (string, error) {
	return f.dir, f.dirErr
}

type fakeSink struct {
	up    Upload
	err   error
	calls int
	paths []string
	mu    sync.Mutex
}

func (f *fakeSink) Upload(_ context.Context, path string) (Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.paths = append(f.paths, path)
	return f.up, f.err
}

func replayDir(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "Replay 2024-05-01 12-00-00.mkv")
	if err := os.WriteFile(p, []byte("frames"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, p
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRunSuccessDeletesArtifact(t *testing.T) {
	dir, path := replayDir(t)
	sink := &fakeSink{up: Upload{ID: "f1", Link: "https://drive/f1"}}
	var stages []Stage
	p := New(&fakeCapture{dir: dir}, sink, bridge.New(2), Options{OnStage: func(r Run) { stages = append(stages, r.Stage) }})

	r := p.Run(context.Background())
	if r.Outcome != Success || r.UploadID != "f1" || r.UploadLink != "https://drive/f1" {
		t.Fatalf("run = %+v", r)
	}
	if !r.Saved || !r.Deleted || r.ArtifactPath != path || r.ArtifactSize != int64(len("frames")) {
		t.Fatalf("run = %+v", r)
	}
	if exists(path) {
		t.Fatal("artifact should be deleted after upload")
	}
	want := []Stage{Saving, Settling, Locating, Uploading, Deciding, Done}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v", stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stages = %v", stages)
		}
	}
}

func TestRunWithoutSinkIsSavedOnly(t *testing.T) {
	dir, path := replayDir(t)
	p := New(&fakeCapture{dir: dir}, nil, bridge.New(2), Options{})
	r := p.Run(context.Background())
	if r.Outcome != SavedOnly {
		t.Fatalf("outcome = %v", r.Outcome)
	}
	if r.Deleted || !exists(path) {
		t.Fatal("artifact must be kept when no sink is configured")
	}
	if p.SinkConfigured() {
		t.Fatal("sink should be unconfigured")
	}
}

func TestRunWithoutSinkEmptyDirIsSavedOnly(t *testing.T) {
	p := New(&fakeCapture{dir: t.TempDir()}, nil, bridge.New(1), Options{})
	r := p.Run(context.Background())
	if r.Outcome != SavedOnly || !r.Saved || r.Deleted {
		t.Fatalf("run = %+v", r)
	}
	if r.ArtifactPath != "" || r.Err != nil {
		t.Fatalf("run = %+v", r)
	}
}

func TestRunDeleteFailureStillSuccess(t *testing.T) {
	dir, _ := replayDir(t)
	sink := &fakeSink{up: Upload{ID: "f2"}}
	p := New(&fakeCapture{dir: dir}, sink, bridge.New(2), Options{
		Remove: func(string) error { return errors.New("file in use") },
	})
	r := p.Run(context.Background())
	if r.Outcome != Success || r.UploadID != "f2" {
		t.Fatalf("run = %+v", r)
	}
	if r.Deleted || r.DeleteErr == nil {
		t.Fatalf("delete error not reported: %+v", r)
	}
	if r.Err != nil {
		t.Fatalf("success run carries err %v", r.Err)
	}
}

func TestRunLocateNothingNeverUploads(t *testing.T) {
	sink := &fakeSink{up: Upload{ID: "x"}}
	p := New(&fakeCapture{dir: t.TempDir()}, sink, bridge.New(2), Options{})
	r := p.Run(context.Background())
	if r.Outcome != LocateFailed || !r.Saved {
		t.Fatalf("run = %+v", r)
	}
	if !fault.Is(r.Err, fault.NoneFound) {
		t.Fatalf("err = %v", r.Err)
	}
	if sink.calls != 0 {
		t.Fatalf("upload called %d times", sink.calls)
	}
}

func TestRunRecordDirectoryFailure(t *testing.T) {
	sink := &fakeSink{up: Upload{ID: "x"}}
	capture := &fakeCapture{dirErr: fault.Newf(fault.RPCFailed, "obsws.call GetRecordDirectory", "boom")}
	r := New(capture, sink, bridge.New(1), Options{}).Run(context.Background())
	if r.Outcome != LocateFailed || sink.calls != 0 {
		t.Fatalf("run = %+v calls=%d", r, sink.calls)
	}
}

func TestRunRecordDirOverride(t *testing.T) {
	dir, path := replayDir(t)
	sink := &fakeSink{up: Upload{ID: "x"}}
	capture := &fakeCapture{dirErr: errors.New("should not be asked")}
	r := New(capture, sink, bridge.New(1), Options{RecordDir: dir}).Run(context.Background())
	if r.Outcome != Success || sink.paths[0] != path {
		t.Fatalf("run = %+v", r)
	}
}

func TestRunSaveFailureTouchesNothing(t *testing.T) {
	dir, path := replayDir(t)
	sink := &fakeSink{up: Upload{ID: "x"}}
	capture := &fakeCapture{dir: dir, saveErr: fault.Newf(fault.RPCFailed, "obsws.call SaveReplayBuffer", "replay buffer not active")}
	r := New(capture, sink, bridge.New(1), Options{}).Run(context.Background())
	if r.Outcome != UploadFailed || r.Saved {
		t.Fatalf("run = %+v", r)
	}
	if !fault.Is(r.Err, fault.RPCFailed) {
		t.Fatalf("err = %v", r.Err)
	}
	if sink.calls != 0 || !exists(path) {
		t.Fatal("failed save must not upload or delete")
	}
}

func TestRunUploadFailureKeepsFile(t *testing.T) {
	dir, path := replayDir(t)
	sink := &fakeSink{err: errors.New("503 backend error")}
	r := New(&fakeCapture{dir: dir}, sink, bridge.New(1), Options{}).Run(context.Background())
	if r.Outcome != UploadFailed || !r.Saved {
		t.Fatalf("run = %+v", r)
	}
	if !fault.Is(r.Err, fault.UploadFailed) {
		t.Fatalf("err = %v", r.Err)
	}
	if !exists(path) || r.Deleted {
		t.Fatal("file must be kept after failed upload")
	}
}

func TestRunEmptyUploadIDIsFailure(t *testing.T) {
	dir, path := replayDir(t)
	r := New(&fakeCapture{dir: dir}, &fakeSink{}, bridge.New(1), Options{}).Run(context.Background())
	if r.Outcome != UploadFailed || !exists(path) {
		t.Fatalf("run = %+v", r)
	}
}

func TestRunAppliesSettleDelay(t *testing.T) {
	dir, _ := replayDir(t)
	start := time.Now()
	r := New(&fakeCapture{dir: dir}, nil, bridge.New(1), Options{SettleDelay: 50 * time.Millisecond}).Run(context.Background())
	if r.Outcome != SavedOnly {
		t.Fatalf("outcome = %v", r.Outcome)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("settle delay not applied")
	}
}

func TestOutcomeStrings(t *testing.T) {
	for o, want := range map[Outcome]string{
		Success:      "success",
		SavedOnly:    "saved_only",
		UploadFailed: "upload_failed",
		LocateFailed: "locate_failed",
		Pending:      "pending",
	} {
		if o.String() != want {
			t.Errorf("%d: %q", o, o.String())
		}
	}
}
