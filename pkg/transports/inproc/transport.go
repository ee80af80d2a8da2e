// Package inproc implements the bridge transport as direct calls into an
// engine living in the same address space. No network is involved; the
// transport is only legal when the calling process hosts the engine.
package inproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cadbridge/cadbridge/pkg/bridge"
	"github.com/cadbridge/cadbridge/pkg/bridge/protocol"
)

// Engine is the in-process CAD engine surface. A domain error is returned
// as *protocol.ErrorBody; anything else is an engine-internal failure.
type Engine interface {
	Execute(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// Transport dispatches calls straight into an Engine value.
type Transport struct {
	engine Engine
	closed atomic.Bool
}

// New creates the in-process transport. The engine must be a live value
// in this process; there is no way to point this transport at a remote
// address, which is what keeps it from being used across process
// boundaries.
func New(engine Engine) (*Transport, error) {
	if engine == nil {
		return nil, bridge.NewConnectionError(
			"in-process transport requires an engine instance in this process", nil)
	}
	return &Transport{engine: engine}, nil
}

// Mode implements bridge.Transport.
func (t *Transport) Mode() bridge.Mode {
	return bridge.ModeInProcess
}

// Connect implements bridge.Transport.
func (t *Transport) Connect(ctx context.Context) error {
	t.closed.Store(false)
	return nil
}

// Call implements bridge.Transport.
func (t *Transport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if t.closed.Load() {
		return nil, bridge.NewConnectionError("transport closed", nil)
	}

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, bridge.NewRemoteFaultError("failed to marshal params", err)
		}
		raw = data
	}

	result, err := t.engine.Execute(ctx, method, raw)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, bridge.NewTimeoutError("engine call timed out", err)
		}
		var body *protocol.ErrorBody
		if errors.As(err, &body) {
			return nil, bridge.NewRemoteFaultError(body.Message, body)
		}
		return nil, bridge.NewRemoteFaultError("engine call failed", err)
	}
	return result, nil
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
	t.closed.Store(true)
	return nil
}
