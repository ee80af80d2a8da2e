package bridge

import (
	"context"
	"encoding/json"
	"time"
)

// Mode identifies the wire mechanism used to reach the engine.
type Mode string

const (
	// ModeHTTPRPC is JSON-RPC over HTTP POST.
	ModeHTTPRPC Mode = "http-rpc"
	// ModeSocketRPC is newline-delimited JSON over a TCP socket.
	ModeSocketRPC Mode = "socket-rpc"
	// ModeInProcess calls the engine directly in the same address space.
	ModeInProcess Mode = "in-process"
)

// Validate checks the mode is one of the three supported kinds.
func (m Mode) Validate() bool {
	switch m {
	case ModeHTTPRPC, ModeSocketRPC, ModeInProcess:
		return true
	default:
		return false
	}
}

// Transport is the capability set every wire mechanism must provide.
// All variants produce the same result shape for the same logical call;
// nothing above this layer branches on transport kind.
type Transport interface {
	// Connect establishes the underlying connection. Fails with a
	// connection-class error if the engine is unreachable.
	Connect(ctx context.Context) error

	// Call performs one request/response round trip. The context carries
	// the per-call timeout budget. Failures are classified as timeout,
	// remote_fault, or connection.
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// Ping is a low-cost liveness probe. It must return nil only when the
	// engine answered the liveness call with the expected sentinel.
	Ping(ctx context.Context) error

	// Close releases the connection. Idempotent.
	Close() error

	// Mode reports the transport kind, for status reporting only.
	Mode() Mode
}

// ConnectionInfo describes the active session for status reporting.
type ConnectionInfo struct {
	// Mode is the transport kind in use.
	Mode Mode `json:"mode"`

	// Host and Port locate the remote endpoint. Empty for in-process.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// InstanceID is the opaque session token assigned at connect time.
	InstanceID string `json:"instance_id,omitempty"`

	// State is the manager's current lifecycle state.
	State State `json:"state"`

	// ConnectedAt is when the session entered Connected.
	ConnectedAt time.Time `json:"connected_at,omitempty"`

	// LastPing is the last observed liveness round-trip latency.
	LastPing time.Duration `json:"last_ping,omitempty"`
}
