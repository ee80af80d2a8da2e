package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the connection lifecycle state.
type State string

const (
	// StateDisconnected means no session exists. Terminal only on shutdown.
	StateDisconnected State = "disconnected"
	// StateConnecting means a connect or reconnect sequence is running.
	StateConnecting State = "connecting"
	// StateConnected means the validation handshake succeeded and calls flow.
	StateConnected State = "connected"
	// StateDegraded means the last call failed communication and the session
	// is not trusted until a reconnect-and-handshake cycle succeeds.
	StateDegraded State = "degraded"
)

// Metrics is the subset of telemetry the manager and guard report into.
type Metrics interface {
	RecordCall(method, mode, outcome string, duration time.Duration)
	RecordRetry(method string)
	RecordStateTransition(from, to string)
	RecordPing(latency time.Duration)
	RecordTransactionOutcome(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) RecordCall(string, string, string, time.Duration) {}
func (nopMetrics) RecordRetry(string)                               {}
func (nopMetrics) RecordStateTransition(string, string)             {}
func (nopMetrics) RecordPing(time.Duration)                         {}
func (nopMetrics) RecordTransactionOutcome(string)                  {}

// Tracer starts spans around bridge operations. The returned finish
// func records the outcome and ends the span.
type Tracer interface {
	StartInvokeSpan(ctx context.Context, method, mode string) (context.Context, func(error))
	StartTransactionSpan(ctx context.Context, label, document string) (context.Context, func(error))
}

type nopTracer struct{}

func (nopTracer) StartInvokeSpan(ctx context.Context, _, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (nopTracer) StartTransactionSpan(ctx context.Context, _, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// SessionRecorder receives the audit trail of connection sessions.
type SessionRecorder interface {
	RecordSession(ctx context.Context, info ConnectionInfo)
	RecordDisconnect(ctx context.Context, instanceID string)
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	// Retry wraps connects and calls.
	Retry RetryPolicy

	// CallTimeout is the default per-call budget.
	CallTimeout time.Duration

	// ReconnectWait bounds how long a concurrent Invoke waits behind an
	// in-flight reconnect before failing busy.
	ReconnectWait time.Duration
}

// Manager owns exactly one transport, runs the connect/validate/reconnect
// state machine, and exposes Invoke to all higher layers.
type Manager struct {
	transport Transport
	cfg       ManagerConfig
	logger    zerolog.Logger
	metrics   Metrics
	tracer    Tracer
	sessions  SessionRecorder

	mu   sync.Mutex
	info ConnectionInfo
	// quarantined is set when the bridge can no longer vouch for remote
	// state (failed rollback). Invokes are rejected until a fresh
	// handshake clears it.
	quarantined bool

	// reconnectSlot serializes reconnect sequences; holding the single
	// token grants the right to run one.
	reconnectSlot chan struct{}
	// reconnectDone is closed when the current reconnect finishes, so
	// queued invokes can wake up.
	reconnectDone chan struct{}
}

// NewManager creates a manager over the given transport. The transport is
// owned by the manager from this point on.
func NewManager(t Transport, cfg ManagerConfig, logger zerolog.Logger) *Manager {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &Manager{
		transport: t,
		cfg:       cfg,
		logger:    logger.With().Str("component", "connection-manager").Logger(),
		metrics:   nopMetrics{},
		tracer:    nopTracer{},
		info: ConnectionInfo{
			Mode:  t.Mode(),
			State: StateDisconnected,
		},
		reconnectSlot: make(chan struct{}, 1),
	}
}

// SetMetrics attaches a metrics recorder. Must be called before Connect.
func (m *Manager) SetMetrics(mt Metrics) {
	if mt != nil {
		m.metrics = mt
	}
}

// SetTracer attaches a span tracer. Must be called before Connect.
func (m *Manager) SetTracer(t Tracer) {
	if t != nil {
		m.tracer = t
	}
}

// SetSessionRecorder attaches a session audit recorder. Must be called
// before Connect.
func (m *Manager) SetSessionRecorder(r SessionRecorder) {
	m.sessions = r
}

// SetEndpoint records host/port for status reporting.
func (m *Manager) SetEndpoint(host string, port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info.Host = host
	m.info.Port = port
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info.State
}

// Info returns a snapshot of the connection for status reporting.
func (m *Manager) Info() ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.info.State
	m.info.State = s
	m.mu.Unlock()
	if prev != s {
		m.logger.Debug().
			Str("from", string(prev)).
			Str("to", string(s)).
			Msg("connection state changed")
		m.metrics.RecordStateTransition(string(prev), string(s))
	}
}

// Connect establishes the session: dial, then the validation handshake.
// The handshake is a liveness round trip that must return the fixed
// sentinel; anything else is a failed connect, not a warning.
func (m *Manager) Connect(ctx context.Context) error {
	select {
	case m.reconnectSlot <- struct{}{}:
	default:
		return NewBusyError("connect already in progress")
	}
	defer func() { <-m.reconnectSlot }()

	return m.connectLocked(ctx)
}

// connectLocked runs the connect sequence. Caller must hold reconnectSlot.
func (m *Manager) connectLocked(ctx context.Context) error {
	m.setState(StateConnecting)

	attempts, err := m.cfg.Retry.Do(ctx, nil, func(ctx context.Context) error {
		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()

		if err := m.transport.Connect(dialCtx); err != nil {
			return err
		}
		return m.handshake(dialCtx)
	})
	if err != nil {
		m.setState(StateDisconnected)
		_ = m.transport.Close()
		if e, ok := err.(*Error); ok {
			return e.WithAttempts(attempts)
		}
		return NewConnectionError("connect failed", err).WithAttempts(attempts)
	}

	m.mu.Lock()
	m.info.InstanceID = uuid.New().String()
	m.info.ConnectedAt = time.Now()
	m.quarantined = false
	m.mu.Unlock()
	m.setState(StateConnected)

	if m.sessions != nil {
		m.sessions.RecordSession(ctx, m.Info())
	}

	m.logger.Info().
		Str("mode", string(m.transport.Mode())).
		Str("instance_id", m.Info().InstanceID).
		Int("attempts", attempts).
		Msg("connected to engine")
	return nil
}

// handshake runs the liveness probe and records its latency.
func (m *Manager) handshake(ctx context.Context) error {
	start := time.Now()
	if err := m.transport.Ping(ctx); err != nil {
		return err
	}
	latency := time.Since(start)
	m.mu.Lock()
	m.info.LastPing = latency
	m.mu.Unlock()
	m.metrics.RecordPing(latency)
	return nil
}

// Invoke performs one remote call with retries. It fails fast when the
// session is not ready, queues a bounded time behind an in-flight
// reconnect, and drives the Degraded/reconnect cycle on communication
// failures.
func (m *Manager) Invoke(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := m.waitReady(ctx); err != nil {
		return nil, err
	}

	ctx, finish := m.tracer.StartInvokeSpan(ctx, method, string(m.transport.Mode()))

	var result json.RawMessage
	start := time.Now()

	check := func() error {
		if m.State() == StateDisconnected {
			return NewNotReadyError("session lost during retry").WithMethod(method)
		}
		return nil
	}

	attempt := 0
	attempts, err := m.cfg.Retry.Do(ctx, check, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			m.metrics.RecordRetry(method)
		}

		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()

		res, callErr := m.transport.Call(callCtx, method, params)
		if callErr == nil {
			result = res
			return nil
		}

		switch KindOf(callErr) {
		case ErrorKindConnection, ErrorKindTimeout, ErrorKindProtocol:
			// The remote side-effect state is unknown; do not trust the
			// session until a fresh handshake succeeds.
			m.setState(StateDegraded)
			m.reconnect(ctx)
		}
		return callErr
	})

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	m.metrics.RecordCall(method, string(m.transport.Mode()), outcome, time.Since(start))
	finish(err)

	if err != nil {
		if e, ok := err.(*Error); ok {
			return nil, e.WithMethod(method).WithAttempts(attempts)
		}
		return nil, NewConnectionError("invoke failed", err).WithMethod(method).WithAttempts(attempts)
	}
	return result, nil
}

// waitReady fails fast on Disconnected/Connecting and waits a bounded
// time behind an in-flight reconnect.
func (m *Manager) waitReady(ctx context.Context) error {
	m.mu.Lock()
	quarantined := m.quarantined
	m.mu.Unlock()
	if quarantined {
		return NewNotReadyError("connection degraded, revalidation required")
	}

	switch m.State() {
	case StateConnected, StateDegraded:
	case StateConnecting:
		done := m.currentReconnectDone()
		if done == nil {
			return NewNotReadyError("connection not established")
		}
		wait := time.NewTimer(m.cfg.ReconnectWait)
		defer wait.Stop()
		select {
		case <-done:
			if s := m.State(); s != StateConnected && s != StateDegraded {
				return NewNotReadyError("reconnect failed")
			}
		case <-wait.C:
			return NewBusyError("reconnect in progress")
		case <-ctx.Done():
			return NewTimeoutError("cancelled while waiting for reconnect", ctx.Err())
		}
	default:
		return NewNotReadyError("not connected")
	}
	return nil
}

func (m *Manager) currentReconnectDone() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectDone
}

// reconnect runs at most one reconnect sequence at a time. Losers of the
// race wait for the winner's cycle instead of starting their own.
func (m *Manager) reconnect(ctx context.Context) {
	select {
	case m.reconnectSlot <- struct{}{}:
	default:
		// Another reconnect is already running; wait for it within our
		// bounded window.
		if done := m.currentReconnectDone(); done != nil {
			wait := time.NewTimer(m.cfg.ReconnectWait)
			defer wait.Stop()
			select {
			case <-done:
			case <-wait.C:
			case <-ctx.Done():
			}
		}
		return
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.reconnectDone = done
	m.mu.Unlock()

	defer func() {
		close(done)
		m.mu.Lock()
		m.reconnectDone = nil
		m.mu.Unlock()
		<-m.reconnectSlot
	}()

	m.logger.Warn().Msg("connection degraded, reconnecting")
	_ = m.transport.Close()

	if err := m.connectLocked(ctx); err != nil {
		m.logger.Error().Err(err).Msg("reconnect failed")
	}
}

// ForceDegraded quarantines the session: the bridge can no longer vouch
// for remote state, e.g. after a failed rollback. Invokes are rejected
// until Revalidate runs a successful handshake.
func (m *Manager) ForceDegraded() {
	m.mu.Lock()
	m.quarantined = true
	m.mu.Unlock()
	if m.State() == StateConnected {
		m.setState(StateDegraded)
	}
}

// Revalidate runs a fresh handshake against a Degraded session, restoring
// Connected on success.
func (m *Manager) Revalidate(ctx context.Context) error {
	select {
	case m.reconnectSlot <- struct{}{}:
	default:
		return NewBusyError("reconnect in progress")
	}
	defer func() { <-m.reconnectSlot }()

	hsCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	if err := m.handshake(hsCtx); err != nil {
		return NewConnectionError("revalidation handshake failed", err)
	}
	m.mu.Lock()
	m.quarantined = false
	m.mu.Unlock()
	m.setState(StateConnected)
	return nil
}

// Ping measures a liveness round trip on a ready session.
func (m *Manager) Ping(ctx context.Context) (time.Duration, error) {
	if s := m.State(); s != StateConnected && s != StateDegraded {
		return 0, NewNotReadyError("not connected")
	}
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	if err := m.transport.Ping(pingCtx); err != nil {
		return 0, err
	}
	latency := time.Since(start)
	m.mu.Lock()
	m.info.LastPing = latency
	m.mu.Unlock()
	m.metrics.RecordPing(latency)
	return latency, nil
}

// Shutdown closes the session permanently.
func (m *Manager) Shutdown() error {
	instanceID := m.Info().InstanceID
	m.setState(StateDisconnected)
	if m.sessions != nil {
		m.sessions.RecordDisconnect(context.Background(), instanceID)
	}
	if err := m.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}
