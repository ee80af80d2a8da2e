// Package httprpc implements the bridge transport over HTTP POST,
// carrying the same request/response envelope as the socket transport.
package httprpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/cadbridge/cadbridge/pkg/bridge"
	"github.com/cadbridge/cadbridge/pkg/bridge/protocol"
)

// DefaultPort is the conventional HTTP-RPC port.
const DefaultPort = 9875

// rpcPath is where the engine mounts its RPC endpoint.
const rpcPath = "/rpc"

// Config configures the HTTP transport.
type Config struct {
	Host        string
	Port        int
	DialTimeout time.Duration
}

// Transport performs one HTTP POST per call. Connections are pooled by
// net/http; Connect only verifies reachability.
type Transport struct {
	cfg     Config
	baseURL string
	client  *http.Client
}

// New creates an HTTP transport. It does not touch the network until
// Connect.
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

	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Path:   rpcPath,
	}

	return &Transport{
		cfg:     cfg,
		baseURL: u.String(),
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext,
				MaxIdleConnsPerHost: 2,
			},
		},
	}
}

// Mode implements bridge.Transport.
func (t *Transport) Mode() bridge.Mode {
	return bridge.ModeHTTPRPC
}

// Connect implements bridge.Transport. HTTP holds no session, so connect
// is a reachability probe.
func (t *Transport) Connect(ctx context.Context) error {
	if err := t.Ping(ctx); err != nil {
		return err
	}
	return nil
}

// Call implements bridge.Transport.
func (t *Transport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, bridge.NewRemoteFaultError("failed to marshal params", err)
		}
		raw = data
	}

	reqEnv := &protocol.Request{
		ID:     uuid.New().String(),
		Method: method,
		Params: raw,
	}
	body, err := json.Marshal(reqEnv)
	if err != nil {
		return nil, bridge.NewRemoteFaultError("failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, bridge.NewConnectionError("failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, bridge.NewConnectionError(
			fmt.Sprintf("engine returned HTTP %d", httpResp.StatusCode), nil)
	}

	var respEnv protocol.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&respEnv); err != nil {
		return nil, bridge.NewConnectionError("unparseable response body", err)
	}
	if err := respEnv.Validate(); err != nil {
		return nil, bridge.NewProtocolError("malformed response envelope", err)
	}
	if respEnv.ID != reqEnv.ID {
		return nil, bridge.NewProtocolError(
			fmt.Sprintf("response id %q does not match request id %q", respEnv.ID, reqEnv.ID), nil)
	}
	if respEnv.Error != nil {
		return nil, bridge.NewRemoteFaultError(respEnv.Error.Message, respEnv.Error)
	}
	return respEnv.Result, nil
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
	t.client.CloseIdleConnections()
	return nil
}

// classify maps an http.Client error to a bridge error class.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return bridge.NewTimeoutError("request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return bridge.NewTimeoutError("request timed out", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return bridge.NewTimeoutError("request timed out", err)
	}
	return bridge.NewConnectionError("engine unreachable", err)
}
