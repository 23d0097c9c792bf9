// Package obsws owns the control connection to OBS Studio over the
// obs-websocket v5 protocol. A Client holds at most one session; connecting
// and disconnecting happen only through EnsureConnected and Disconnect, and
// every request/response exchange is serialized through the session.
//
// A failed call never changes the connection state: after the remote side
// crashes, calls keep failing with fault.RPCFailed until Disconnect is called.
package obsws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onnwee/obs-relay/fault"
	"github.com/onnwee/obs-relay/telemetry"
)

// State is the control connection state.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Config carries the single set of connection parameters.
type Config struct {
	Host           string
	Port           int
	Password       string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

// Client is the control connection manager.
type Client struct {
	cfg    Config
	dialer websocket.Dialer

	mu   sync.Mutex // guards sess; held across connect/disconnect
	sess *session

	callMu sync.Mutex // one request in flight at a time
}

// session is one websocket connection. Once a transport error occurs the
// underlying conn is unusable, so err is latched and later calls fail fast.
type session struct {
	conn    *websocket.Conn
	version string
	err     error // guarded by Client.callMu
}

// NewClient returns a disconnected client.
func NewClient(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 4455
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}
}

// URL returns the websocket endpoint.
func (c *Client) URL() string {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))}
	return u.String()
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return Connected
	}
	return Disconnected
}

// ServerVersion returns the obs-websocket version announced in Hello.
func (c *Client) ServerVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.version
}

// EnsureConnected opens the session if none exists. It makes exactly one
// attempt bounded by the dial timeout.
func (c *Client) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.URL(), nil)
	if err != nil {
		return fault.New(fault.ConnectFailed, "obsws.connect", err)
	}
	version, err := c.identify(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return fault.New(fault.ConnectFailed, "obsws.connect", err)
	}
	c.sess = &session{conn: conn, version: version}
	telemetry.SetConnected(true)
	slog.Info("obs websocket connected", slog.String("url", c.URL()), slog.String("ws_version", version), slog.String("component", "obsws"))
	return nil
}

// identify performs the Hello/Identify/Identified handshake.
func (c *Client) identify(ctx context.Context, conn *websocket.Conn) (string, error) {
	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)
	defer func() {
		_ = conn.SetReadDeadline(time.Time{})
		_ = conn.SetWriteDeadline(time.Time{})
	}()

	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		return "", fmt.Errorf("read hello: %w", err)
	}
	if env.Op != opHello {
		return "", fmt.Errorf("expected hello, got op %d", env.Op)
	}
	var h hello
	if err := json.Unmarshal(env.D, &h); err != nil {
		return "", fmt.Errorf("decode hello: %w", err)
	}

	id := identify{RPCVersion: rpcVersion}
	if h.Authentication != nil {
		if c.cfg.Password == "" {
			return "", fmt.Errorf("server requires authentication but no password configured")
		}
		id.Authentication = authResponse(c.cfg.Password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	msg, err := encode(opIdentify, id)
	if err != nil {
		return "", err
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return "", fmt.Errorf("write identify: %w", err)
	}

	if err := conn.ReadJSON(&env); err != nil {
		// obs-websocket closes the socket with 4009 on a bad password
		if ce, ok := err.(*websocket.CloseError); ok {
			return "", fmt.Errorf("identify rejected: %d %s", ce.Code, ce.Text)
		}
		return "", fmt.Errorf("read identified: %w", err)
	}
	if env.Op != opIdentified {
		return "", fmt.Errorf("expected identified, got op %d", env.Op)
	}
	var ok identified
	if err := json.Unmarshal(env.D, &ok); err != nil {
		return "", fmt.Errorf("decode identified: %w", err)
	}
	return h.OBSWebSocketVersion, nil
}

// Disconnect closes the session. It is safe to call when disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	conn := c.sess.conn
	c.sess = nil
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := conn.Close()
	telemetry.SetConnected(false)
	slog.Info("obs websocket disconnected", slog.String("component", "obsws"))
	if err != nil {
		slog.Debug("close websocket", slog.Any("err", err), slog.String("component", "obsws"))
	}
	return nil
}

// Call issues one request and decodes responseData into out (which may be nil).
func (c *Client) Call(ctx context.Context, requestType string, data any, out any) error {
	op := "obsws.call " + requestType
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return fault.Newf(fault.NotConnected, op, "not connected to OBS")
	}

	ctx, span := telemetry.StartSpan(ctx, "obsws", "obs."+requestType, telemetry.RequestTypeAttr(requestType))
	defer span.End()

	c.callMu.Lock()
	defer c.callMu.Unlock()

	if sess.err != nil {
		return fault.New(fault.RPCFailed, op, fmt.Errorf("session unusable: %w", sess.err))
	}

	deadline := time.Now().Add(c.cfg.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	resp, err := c.exchange(sess.conn, deadline, requestType, data)
	if err != nil {
		sess.err = err
		telemetry.RecordError(span, err)
		return fault.New(fault.RPCFailed, op, err)
	}
	if !resp.RequestStatus.Result {
		err := fmt.Errorf("request rejected (code %d): %s", resp.RequestStatus.Code, resp.RequestStatus.Comment)
		telemetry.RecordError(span, err)
		return fault.New(fault.RPCFailed, op, err)
	}
	if out != nil {
		if len(resp.ResponseData) == 0 {
			return fault.Newf(fault.RPCFailed, op, "response carried no data")
		}
		if err := json.Unmarshal(resp.ResponseData, out); err != nil {
			return fault.New(fault.RPCFailed, op, fmt.Errorf("decode response: %w", err))
		}
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

func (c *Client) exchange(conn *websocket.Conn, deadline time.Time, requestType string, data any) (*requestResponse, error) {
	id := uuid.NewString()
	msg, err := encode(opRequest, request{RequestType: requestType, RequestID: id, RequestData: data})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if env.Op != opRequestResponse {
			continue // events are not subscribed, but skip anything else
		}
		var resp requestResponse
		if err := json.Unmarshal(env.D, &resp); err != nil {
			return nil, fmt.Errorf("malformed response: %w", err)
		}
		if resp.RequestID != id {
			slog.Debug("dropping stale response", slog.String("request_id", resp.RequestID), slog.String("component", "obsws"))
			continue
		}
		return &resp, nil
	}
}
