// Package socketrpc implements the bridge transport over a raw TCP
// socket using the newline-delimited JSON envelope.
package socketrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadbridge/cadbridge/pkg/bridge"
	"github.com/cadbridge/cadbridge/pkg/bridge/protocol"
)

// DefaultPort is the conventional socket-RPC port.
const DefaultPort = 9876

// Config configures the socket transport.
type Config struct {
	Host        string
	Port        int
	DialTimeout time.Duration
}

// Transport speaks one request per connection-held call: the connection
// is exclusive for the duration of each round trip.
type Transport struct {
	cfg Config

	mu     sync.Mutex
	conn   net.Conn
	enc    *protocol.Encoder
	dec    *protocol.Decoder
	closed bool
}

// New creates a socket transport. It does not dial until Connect.
func New(cfg Config) *Transport {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Transport{cfg: cfg}
}

// Mode implements bridge.Transport.
func (t *Transport) Mode() bridge.Mode {
	return bridge.ModeSocketRPC
}

// Connect implements bridge.Transport.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: t.cfg.DialTimeout}
	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprintf("%d", t.cfg.Port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return bridge.NewConnectionError(fmt.Sprintf("failed to dial %s", addr), err)
	}

	t.conn = conn
	t.enc = protocol.NewEncoder(conn)
	t.dec = protocol.NewDecoder(conn)
	t.closed = false
	return nil
}

// Call implements bridge.Transport. A response whose id does not match
// the request is a protocol violation and closes the transport.
func (t *Transport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, bridge.NewConnectionError("not connected", nil)
	}

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, bridge.NewRemoteFaultError("failed to marshal params", err)
		}
		raw = data
	}

	req := &protocol.Request{
		ID:     uuid.New().String(),
		Method: method,
		Params: raw,
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetDeadline(deadline)
		defer t.conn.SetDeadline(time.Time{})
	}

	if err := t.enc.Encode(req); err != nil {
		return nil, t.classifyLocked(err, "failed to send request")
	}

	resp, err := t.dec.Decode()
	if err != nil {
		return nil, t.classifyLocked(err, "failed to read response")
	}

	if resp.ID != req.ID {
		t.closeLocked()
		return nil, bridge.NewProtocolError(
			fmt.Sprintf("response id %q does not match request id %q", resp.ID, req.ID), nil)
	}

	if resp.Error != nil {
		// The engine executed the call and reported a domain failure;
		// surfaced verbatim, never retried.
		return nil, bridge.NewRemoteFaultError(resp.Error.Message, resp.Error)
	}
	return resp.Result, nil
}

// Ping implements bridge.Transport.
func (t *Transport) Ping(ctx context.Context) error {
	result, err := t.Call(ctx, protocol.MethodPing, nil)
	if err != nil {
		return err
	}
	var sentinel string
	if err := json.Unmarshal(result, &sentinel); err != nil || sentinel != protocol.PingResult {
		return bridge.NewConnectionError(
			fmt.Sprintf("liveness probe returned %q, want %q", string(result), protocol.PingResult), nil)
	}
	return nil
}

// Close implements bridge.Transport. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *Transport) closeLocked() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
		t.enc = nil
		t.dec = nil
	}
	t.closed = true
}

// classifyLocked maps an I/O failure to a bridge error class and drops
// the connection: after a failed round trip the stream framing can no
// longer be trusted.
func (t *Transport) classifyLocked(err error, what string) error {
	t.closeLocked()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return bridge.NewTimeoutError(what, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return bridge.NewConnectionError("connection lost", err)
	}
	return bridge.NewConnectionError(what, err)
}
