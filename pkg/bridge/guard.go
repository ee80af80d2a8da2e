package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cadbridge/cadbridge/pkg/bridge/protocol"
)

// TxnOutcome resolves how a transaction ended. Every transaction is
// resolved before control returns to the caller.
type TxnOutcome string

const (
	TxnCommitted  TxnOutcome = "committed"
	TxnRolledBack TxnOutcome = "rolled_back"
	// TxnRollbackFailed means the abort itself failed and the engine may
	// hold a partial mutation. Recorded distinctly so the audit trail
	// matches the fatal error surfaced to the caller.
	TxnRollbackFailed TxnOutcome = "rollback_failed"
)

// Gate decides whether a mutating invocation may run at all. Evaluated
// before any checkpoint is opened.
type Gate interface {
	Allow(ctx context.Context, method, document string) error
}

// Recorder receives the audit trail of invocations and transactions.
type Recorder interface {
	RecordInvocation(ctx context.Context, id, method string, attempts int, outcome string, duration time.Duration)
	RecordTransaction(ctx context.Context, label, document string, outcome TxnOutcome)
}

// Mutation describes one mutating tool call.
type Mutation struct {
	// Method is the remote method to invoke.
	Method string

	// Params is the method's parameter payload.
	Params interface{}

	// Document names the document the mutation targets.
	Document string

	// Object names the object validated after the call, if any.
	Object string

	// Label names the undo checkpoint. Derived from Method when empty;
	// it appears in the engine's own undo menu.
	Label string
}

// GuardConfig configures the transaction guard.
type GuardConfig struct {
	// SlotWait bounds how long a mutation waits for its document's
	// exclusive execution slot.
	SlotWait time.Duration
}

// TransactionGuard wraps every mutating invocation in a named undo
// checkpoint: begin, invoke, validate, then commit or roll back. No
// partial mutation survives a failed operation.
type TransactionGuard struct {
	inv      Invoker
	checker  Checker
	gate     Gate
	recorder Recorder
	metrics  Metrics
	tracer   Tracer
	locks    *docLocks
	cfg      GuardConfig
	logger   zerolog.Logger

	degrade func()
}

// NewTransactionGuard creates a guard over the manager. The checker is
// the pluggable validity predicate; gate and recorder may be nil.
func NewTransactionGuard(mgr *Manager, checker Checker, cfg GuardConfig, logger zerolog.Logger) *TransactionGuard {
	if cfg.SlotWait <= 0 {
		cfg.SlotWait = 30 * time.Second
	}
	return &TransactionGuard{
		inv:     mgr,
		checker: checker,
		metrics: nopMetrics{},
		tracer:  nopTracer{},
		locks:   newDocLocks(),
		cfg:     cfg,
		logger:  logger.With().Str("component", "transaction-guard").Logger(),
		degrade: mgr.ForceDegraded,
	}
}

// SetGate attaches a policy gate evaluated before each mutation.
func (g *TransactionGuard) SetGate(gate Gate) {
	g.gate = gate
}

// SetRecorder attaches an audit recorder.
func (g *TransactionGuard) SetRecorder(r Recorder) {
	g.recorder = r
}

// SetMetrics attaches a metrics recorder.
func (g *TransactionGuard) SetMetrics(mt Metrics) {
	if mt != nil {
		g.metrics = mt
	}
}

// SetTracer attaches a span tracer.
func (g *TransactionGuard) SetTracer(t Tracer) {
	if t != nil {
		g.tracer = t
	}
}

type txnParams struct {
	Document string `json:"document"`
	Label    string `json:"label,omitempty"`
}

// Mutate runs one mutating invocation under a named undo checkpoint.
// On success the checkpoint is committed and stays on the engine's undo
// stack for user-initiated undo. On call failure or an invalid/
// indeterminate verdict the checkpoint is rolled back and a classified
// error is returned; a failed rollback is escalated as fatal and forces
// the connection Degraded.
func (g *TransactionGuard) Mutate(ctx context.Context, mut Mutation) (json.RawMessage, error) {
	if mut.Document == "" {
		return nil, NewRemoteFaultError("mutation requires a document", nil).WithMethod(mut.Method)
	}
	if g.gate != nil {
		if err := g.gate.Allow(ctx, mut.Method, mut.Document); err != nil {
			return nil, err
		}
	}

	slotCtx, cancel := context.WithTimeout(ctx, g.cfg.SlotWait)
	err := g.locks.acquire(slotCtx, mut.Document)
	cancel()
	if err != nil {
		return nil, err
	}
	defer g.locks.release(mut.Document)

	label := mut.Label
	if label == "" {
		label = fmt.Sprintf("%s-%s", mut.Method, uuid.New().String()[:8])
	}

	ctx, finish := g.tracer.StartTransactionSpan(ctx, label, mut.Document)
	result, err := g.runCheckpointed(ctx, mut, label)
	finish(err)
	return result, err
}

// runCheckpointed executes one mutation inside its undo checkpoint.
// Caller holds the document slot.
func (g *TransactionGuard) runCheckpointed(ctx context.Context, mut Mutation, label string) (json.RawMessage, error) {
	if _, err := g.inv.Invoke(ctx, protocol.MethodTxnBegin, txnParams{Document: mut.Document, Label: label}); err != nil {
		return nil, g.contextualize(err, mut, label)
	}

	invocationID := uuid.New().String()
	start := time.Now()
	result, callErr := g.inv.Invoke(ctx, mut.Method, mut.Params)
	g.record(ctx, invocationID, mut.Method, callErr, time.Since(start))

	if callErr != nil {
		return nil, g.rollback(ctx, mut, label, g.contextualize(callErr, mut, label))
	}

	verdict := g.checker.Check(ctx, mut.Document, mut.Object)
	switch verdict.Verdict {
	case VerdictValid:
		if _, err := g.inv.Invoke(ctx, protocol.MethodTxnCommit, txnParams{Document: mut.Document, Label: label}); err != nil {
			return nil, g.rollback(ctx, mut, label, g.contextualize(err, mut, label))
		}
		g.recordTxn(ctx, label, mut.Document, TxnCommitted)
		g.logger.Debug().
			Str("method", mut.Method).
			Str("checkpoint", label).
			Msg("mutation committed")
		return result, nil
	default:
		// Indeterminate is deliberately not treated as success: if we
		// cannot prove validity, we revert.
		reason := verdict.Reason
		if verdict.Verdict == VerdictIndeterminate {
			reason = "validity indeterminate: " + reason
		}
		failure := NewValidationError(reason).
			WithMethod(mut.Method).
			WithDocument(mut.Document).
			WithObject(mut.Object).
			WithCheckpoint(label)
		return nil, g.rollback(ctx, mut, label, failure)
	}
}

// Query runs a read-only invocation. No checkpoint, no document slot;
// reads may run concurrently with an in-flight mutation and return
// possibly-stale data.
func (g *TransactionGuard) Query(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	invocationID := uuid.New().String()
	start := time.Now()
	result, err := g.inv.Invoke(ctx, method, params)
	g.record(ctx, invocationID, method, err, time.Since(start))
	return result, err
}

// rollback aborts the checkpoint and returns the original failure, or a
// rollback-failure error if the abort itself failed. The two cases must
// stay distinguishable: "reverted" means the document is clean again,
// "rollback failed" means the bridge cannot vouch for it.
func (g *TransactionGuard) rollback(ctx context.Context, mut Mutation, label string, cause *Error) *Error {
	if _, err := g.inv.Invoke(ctx, protocol.MethodTxnAbort, txnParams{Document: mut.Document, Label: label}); err != nil {
		g.logger.Error().
			Err(err).
			Str("checkpoint", label).
			Str("document", mut.Document).
			Msg("rollback failed, forcing connection degraded")
		g.degrade()
		g.recordTxn(ctx, label, mut.Document, TxnRollbackFailed)
		return NewRollbackError(
			fmt.Sprintf("operation failed and state reversion also failed: %s", cause.Message), err).
			WithMethod(mut.Method).
			WithDocument(mut.Document).
			WithCheckpoint(label)
	}
	g.recordTxn(ctx, label, mut.Document, TxnRolledBack)
	g.logger.Warn().
		Str("method", mut.Method).
		Str("checkpoint", label).
		Str("kind", string(cause.Kind)).
		Msg("mutation rolled back")
	return cause
}

func (g *TransactionGuard) contextualize(err error, mut Mutation, label string) *Error {
	if e, ok := err.(*Error); ok {
		return e.WithDocument(mut.Document).WithCheckpoint(label)
	}
	return NewRemoteFaultError("engine call failed", err).
		WithMethod(mut.Method).
		WithDocument(mut.Document).
		WithCheckpoint(label)
}

func (g *TransactionGuard) record(ctx context.Context, id, method string, err error, d time.Duration) {
	if g.recorder == nil {
		return
	}
	outcome := "ok"
	attempts := 1
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		var e *Error
		if errors.As(err, &e) && e.Attempts > 0 {
			attempts = e.Attempts
		}
	}
	g.recorder.RecordInvocation(ctx, id, method, attempts, outcome, d)
}

func (g *TransactionGuard) recordTxn(ctx context.Context, label, doc string, outcome TxnOutcome) {
	g.metrics.RecordTransactionOutcome(string(outcome))
	if g.recorder == nil {
		return
	}
	g.recorder.RecordTransaction(ctx, label, doc, outcome)
}
