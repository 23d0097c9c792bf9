package obsws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/obs-relay/fault"
	"github.com/onnwee/obs-relay/testutil"
)

func newTestClient(f *testutil.FakeOBS, password string) *Client {
	return NewClient(Config{
		Host:           f.Host(),
		Port:           f.Port(),
		Password:       password,
		DialTimeout:    2 * time.Second,
		RequestTimeout: 2 * time.Second,
	})
}

func TestCallWithoutConnection(t *testing.T) {
	c := NewClient(Config{Host: "127.0.0.1", Port: 1})
	err := c.StartReplayBuffer(context.Background())
	if !fault.Is(err, fault.NotConnected) {
		t.Fatalf("want not_connected, got %v", err)
	}
	if c.State() != Disconnected {
		t.Fatalf("state = %v", c.State())
	}
}

func TestEnsureConnectedIdempotent(t *testing.T) {
	f := testutil.NewFakeOBS(t, "")
	c := newTestClient(f, "")
	defer c.Disconnect()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := c.EnsureConnected(ctx); err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
	}
	if f.Dials() != 1 {
		t.Fatalf("dials = %d, want 1", f.Dials())
	}
	if c.State() != Connected {
		t.Fatalf("state = %v", c.State())
	}
	if c.ServerVersion() != "5.5.0" {
		t.Fatalf("version = %q", c.ServerVersion())
	}
}

func TestEnsureConnectedConcurrent(t *testing.T) {
	f := testutil.NewFakeOBS(t, "")
	c := newTestClient(f, "")
	defer c.Disconnect()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.EnsureConnected(context.Background()); err != nil {
				t.Errorf("connect: %v", err)
			}
		}()
	}
	wg.Wait()
	if f.Dials() != 1 {
		t.Fatalf("dials = %d, want 1", f.Dials())
	}
}

func TestConnectRefused(t *testing.T) {
	c := NewClient(Config{Host: "127.0.0.1", Port: 1, DialTimeout: time.Second})
	err := c.EnsureConnected(context.Background())
	if !fault.Is(err, fault.ConnectFailed) {
		t.Fatalf("want connect_failed, got %v", err)
	}
	if c.State() != Disconnected {
		t.Fatal("state should stay disconnected")
	}
}

func TestPasswordAuth(t *testing.T) {
	f := testutil.NewFakeOBS(t, "hunter2")

	good := newTestClient(f, "hunter2")
	defer good.Disconnect()
	if err := good.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("good password: %v", err)
	}

	bad := newTestClient(f, "wrong")
	if err := bad.EnsureConnected(context.Background()); !fault.Is(err, fault.ConnectFailed) {
		t.Fatalf("bad password: want connect_failed, got %v", err)
	}

	none := newTestClient(f, "")
	if err := none.EnsureConnected(context.Background()); !fault.Is(err, fault.ConnectFailed) {
		t.Fatalf("no password: want connect_failed, got %v", err)
	}
}

func TestTypedRequests(t *testing.T) {
	f := testutil.NewFakeOBS(t, "")
	f.Reply("GetVersion", map[string]any{"obsVersion": "30.1.2", "obsWebSocketVersion": "5.5.0", "rpcVersion": 1})
	f.Reply("GetStats", map[string]any{"activeFps": 60.0, "cpuUsage": 3.5})
	f.Reply("GetReplayBufferStatus", map[string]any{"outputActive": true})
	f.Reply("GetRecordDirectory", map[string]any{"recordDirectory": "/videos"})

	var gotParam map[string]string
	f.Handle("SetProfileParameter", func(data json.RawMessage) (any, string) {
		_ = json.Unmarshal(data, &gotParam)
		return nil, ""
	})

	c := newTestClient(f, "")
	defer c.Disconnect()
	ctx := context.Background()
	if err := c.EnsureConnected(ctx); err != nil {
		t.Fatal(err)
	}

	v, err := c.GetVersion(ctx)
	if err != nil || v.OBSVersion != "30.1.2" {
		t.Fatalf("GetVersion = %+v, %v", v, err)
	}
	s, err := c.GetStats(ctx)
	if err != nil || s.ActiveFPS != 60 {
		t.Fatalf("GetStats = %+v, %v", s, err)
	}
	active, err := c.ReplayBufferActive(ctx)
	if err != nil || !active {
		t.Fatalf("ReplayBufferActive = %v, %v", active, err)
	}
	dir, err := c.GetRecordDirectory(ctx)
	if err != nil || dir != "/videos" {
		t.Fatalf("GetRecordDirectory = %q, %v", dir, err)
	}
	if err := c.SetReplayBufferDuration(ctx, 45); err != nil {
		t.Fatal(err)
	}
	if gotParam["parameterCategory"] != "AdvOut" || gotParam["parameterName"] != "RecRBTime" || gotParam["parameterValue"] != "45" {
		t.Fatalf("unexpected parameter payload %v", gotParam)
	}
	for _, fn := range []func(context.Context) error{c.StartReplayBuffer, c.SaveReplayBuffer, c.StopReplayBuffer} {
		if err := fn(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if f.Count("SaveReplayBuffer") != 1 {
		t.Fatalf("save count = %d", f.Count("SaveReplayBuffer"))
	}
}

func TestRejectedRequest(t *testing.T) {
	f := testutil.NewFakeOBS(t, "")
	f.Fail("StartReplayBuffer", "replay buffer not enabled")

	c := newTestClient(f, "")
	defer c.Disconnect()
	ctx := context.Background()
	if err := c.EnsureConnected(ctx); err != nil {
		t.Fatal(err)
	}
	err := c.StartReplayBuffer(ctx)
	if !fault.Is(err, fault.RPCFailed) {
		t.Fatalf("want rpc_failed, got %v", err)
	}
	if c.State() != Connected {
		t.Fatal("rejected call must not change state")
	}
	// the session is still usable after a rejection
	if err := c.SaveReplayBuffer(ctx); err != nil {
		t.Fatalf("follow-up call: %v", err)
	}
}

func TestMissingResponseData(t *testing.T) {
	f := testutil.NewFakeOBS(t, "")
	c := newTestClient(f, "")
	defer c.Disconnect()
	ctx := context.Background()
	if err := c.EnsureConnected(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetRecordDirectory(ctx); !fault.Is(err, fault.RPCFailed) {
		t.Fatalf("want rpc_failed, got %v", err)
	}
}

func TestServerCrashKeepsState(t *testing.T) {
	f := testutil.NewFakeOBS(t, "")
	c := newTestClient(f, "")
	ctx := context.Background()
	if err := c.EnsureConnected(ctx); err != nil {
		t.Fatal(err)
	}
	f.Crash()

	for i := 0; i < 3; i++ {
		if err := c.SaveReplayBuffer(ctx); !fault.Is(err, fault.RPCFailed) {
			t.Fatalf("call %d: want rpc_failed, got %v", i, err)
		}
	}
	if c.State() != Connected {
		t.Fatal("state should remain connected until Disconnect")
	}

	if err := c.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if c.State() != Disconnected {
		t.Fatal("state should be disconnected")
	}

	// reconnect gets a fresh session
	if err := c.EnsureConnected(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()
	if err := c.SaveReplayBuffer(ctx); err != nil {
		t.Fatalf("after reconnect: %v", err)
	}
}

func TestAuthResponse(t *testing.T) {
	a := authResponse("pw", "salt", "challenge")
	b := authResponse("pw", "salt", "challenge")
	if a != b || a == "" {
		t.Fatal("auth response should be deterministic")
	}
	if authResponse("pw2", "salt", "challenge") == a {
		t.Fatal("different password produced same response")
	}
}
