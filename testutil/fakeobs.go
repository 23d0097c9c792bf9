package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// Handler answers one obs-websocket request. Returning a non-empty comment
// marks the request as failed.
type Handler func(data json.RawMessage) (resp any, comment string)

// FakeOBS is an in-process obs-websocket v5 server.
type FakeOBS struct {
	Server   *httptest.Server
	Password string

	mu       sync.Mutex
	handlers map[string]Handler
	counts   map[string]int
	conns    map[*websocket.Conn]struct{}
	dials    int
}

type wsEnvelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type wsRequest struct {
	RequestType string          `json:"requestType"`
	RequestID   string          `json:"requestId"`
	RequestData json.RawMessage `json:"requestData"`
}

const (
	fakeSalt      = "c2FsdA=="
	fakeChallenge = "Y2hhbGxlbmdl"
)

// NewFakeOBS starts a fake server. An empty password disables auth.
func NewFakeOBS(t *testing.T, password string) *FakeOBS {
	t.Helper()
	f := &FakeOBS{
		Password: password,
		handlers: make(map[string]Handler),
		counts:   make(map[string]int),
		conns:    make(map[*websocket.Conn]struct{}),
	}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns[conn] = struct{}{}
		f.dials++
		f.mu.Unlock()
		defer func() {
			f.mu.Lock()
			delete(f.conns, conn)
			f.mu.Unlock()
			_ = conn.Close()
		}()
		f.serve(conn)
	}))
	t.Cleanup(func() {
		f.Crash()
		f.Server.Close()
	})
	return f
}

// Handle registers the handler for a request type. Unregistered types
// succeed with no response data.
func (f *FakeOBS) Handle(requestType string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[requestType] = h
}

// Reply registers a handler that always succeeds with resp.
func (f *FakeOBS) Reply(requestType string, resp any) {
	f.Handle(requestType, func(json.RawMessage) (any, string) { return resp, "" })
}

// Fail registers a handler that always rejects the request.
func (f *FakeOBS) Fail(requestType, comment string) {
	f.Handle(requestType, func(json.RawMessage) (any, string) { return nil, comment })
}

// Count returns how many requests of the given type were received.
func (f *FakeOBS) Count(requestType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[requestType]
}

// Total returns the number of requests of any type.
func (f *FakeOBS) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.counts {
		n += c
	}
	return n
}

// Dials returns the number of websocket connections accepted.
func (f *FakeOBS) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// Crash drops every open connection without a close frame.
func (f *FakeOBS) Crash() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.conns {
		_ = c.UnderlyingConn().Close()
	}
}

// Host returns the listener host.
func (f *FakeOBS) Host() string {
	h, _, _ := net.SplitHostPort(f.Server.Listener.Addr().String())
	return h
}

// Port returns the listener port.
func (f *FakeOBS) Port() int {
	_, p, _ := net.SplitHostPort(f.Server.Listener.Addr().String())
	n, _ := strconv.Atoi(p)
	return n
}

func (f *FakeOBS) serve(conn *websocket.Conn) {
	hello := map[string]any{"obsWebSocketVersion": "5.5.0", "rpcVersion": 1}
	if f.Password != "" {
		hello["authentication"] = map[string]string{"challenge": fakeChallenge, "salt": fakeSalt}
	}
	if err := writeOp(conn, 0, hello); err != nil {
		return
	}

	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil || env.Op != 1 {
		return
	}
	var id struct {
		Authentication string `json:"authentication"`
	}
	_ = json.Unmarshal(env.D, &id)
	if f.Password != "" && id.Authentication != fakeAuth(f.Password) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4009, "Authentication failed."))
		return
	}
	if err := writeOp(conn, 2, map[string]int{"negotiatedRpcVersion": 1}); err != nil {
		return
	}

	for {
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Op != 6 {
			continue
		}
		var req wsRequest
		if err := json.Unmarshal(env.D, &req); err != nil {
			return
		}
		f.mu.Lock()
		f.counts[req.RequestType]++
		h := f.handlers[req.RequestType]
		f.mu.Unlock()

		var resp any
		comment := ""
		if h != nil {
			resp, comment = h(req.RequestData)
		}
		status := map[string]any{"result": comment == "", "code": 100}
		if comment != "" {
			status["code"] = 500
			status["comment"] = comment
		}
		out := map[string]any{
			"requestType":   req.RequestType,
			"requestId":     req.RequestID,
			"requestStatus": status,
		}
		if resp != nil {
			out["responseData"] = resp
		}
		if err := writeOp(conn, 7, out); err != nil {
			return
		}
	}
}

func writeOp(conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return conn.WriteJSON(wsEnvelope{Op: op, D: raw})
}

func fakeAuth(password string) string {
	secret := sha256.Sum256([]byte(password + fakeSalt))
	sum := sha256.Sum256([]byte(base64.StdEncoding.EncodeToString(secret[:]) + fakeChallenge))
	return base64.StdEncoding.EncodeToString(sum[:])
}
