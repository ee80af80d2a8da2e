package stores

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cadbridge/cadbridge/pkg/bridge"
)

// AuditRecorder adapts a Store to the guard's Recorder interface.
// Recording failures are logged and swallowed: the audit trail must
// never fail an otherwise successful operation.
type AuditRecorder struct {
	store  Store
	logger zerolog.Logger
}

// NewAuditRecorder wraps a store as an audit recorder.
func NewAuditRecorder(store Store, logger zerolog.Logger) *AuditRecorder {
	return &AuditRecorder{
		store:  store,
		logger: logger.With().Str("component", "audit-recorder").Logger(),
	}
}

// RecordInvocation persists one engine call.
func (r *AuditRecorder) RecordInvocation(ctx context.Context, id, method string, attempts int, outcome string, duration time.Duration) {
	inv := &Invocation{
		ID:         id,
		Method:     method,
		Attempts:   attempts,
		Outcome:    outcome,
		DurationMS: duration.Milliseconds(),
		RecordedAt: time.Now(),
	}
	if err := r.store.AppendInvocation(ctx, inv); err != nil {
		r.logger.Warn().Err(err).Str("method", method).Msg("failed to record invocation")
	}
}

// RecordTransaction persists one resolved checkpoint.
func (r *AuditRecorder) RecordTransaction(ctx context.Context, label, document string, outcome bridge.TxnOutcome) {
	txn := &Transaction{
		Label:      label,
		Document:   document,
		Outcome:    string(outcome),
		RecordedAt: time.Now(),
	}
	if err := r.store.AppendTransaction(ctx, txn); err != nil {
		r.logger.Warn().Err(err).Str("checkpoint", label).Msg("failed to record transaction")
	}
}

// RecordSession persists a freshly validated connection.
func (r *AuditRecorder) RecordSession(ctx context.Context, info bridge.ConnectionInfo) {
	sess := &Session{
		InstanceID:  info.InstanceID,
		Mode:        string(info.Mode),
		Host:        info.Host,
		Port:        info.Port,
		ConnectedAt: info.ConnectedAt,
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		r.logger.Warn().Err(err).Str("instance_id", info.InstanceID).Msg("failed to record session")
	}
}

// RecordDisconnect marks the session closed.
func (r *AuditRecorder) RecordDisconnect(ctx context.Context, instanceID string) {
	if instanceID == "" {
		return
	}
	if err := r.store.CloseSession(ctx, instanceID); err != nil {
		r.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("failed to close session record")
	}
}
