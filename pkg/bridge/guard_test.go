package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cadbridge/cadbridge/pkg/bridge/protocol"
)

// fakeInvoker records the method sequence and fails scripted methods.
type fakeInvoker struct {
	mu      sync.Mutex
	methods []string
	fail    map[string]error
	results map[string]json.RawMessage
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		fail:    map[string]error{},
		results: map[string]json.RawMessage{},
	}
}

func (f *fakeInvoker) Invoke(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods = append(f.methods, method)
	if err, ok := f.fail[method]; ok {
		return nil, err
	}
	if res, ok := f.results[method]; ok {
		return res, nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeInvoker) sequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

// fixedChecker always returns the same validation.
type fixedChecker struct {
	v Validation
}

func (c fixedChecker) Check(ctx context.Context, doc, object string) Validation {
	return c.v
}

// recordingRecorder captures the audit trail for assertions.
type recordingRecorder struct {
	mu          sync.Mutex
	invocations []string
	txnOutcomes []TxnOutcome
}

func (r *recordingRecorder) RecordInvocation(ctx context.Context, id, method string, attempts int, outcome string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations = append(r.invocations, method+"/"+outcome)
}

func (r *recordingRecorder) RecordTransaction(ctx context.Context, label, document string, outcome TxnOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txnOutcomes = append(r.txnOutcomes, outcome)
}

func newTestGuard(inv Invoker, checker Checker) *TransactionGuard {
	degraded := false
	return newTestGuardDegrade(inv, checker, &degraded)
}

func newTestGuardDegrade(inv Invoker, checker Checker, degraded *bool) *TransactionGuard {
	return &TransactionGuard{
		inv:     inv,
		checker: checker,
		metrics: nopMetrics{},
		tracer:  nopTracer{},
		locks:   newDocLocks(),
		cfg:     GuardConfig{SlotWait: 100 * time.Millisecond},
		logger:  zerolog.Nop(),
		degrade: func() { *degraded = true },
	}
}

func TestMutateCommitsOnValid(t *testing.T) {
	inv := newFakeInvoker()
	inv.results["object.create"] = json.RawMessage(`{"name":"Pad"}`)
	g := newTestGuard(inv, fixedChecker{Validation{Verdict: VerdictValid}})

	result, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.create",
		Document: "Bracket",
		Object:   "Pad",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if string(result) != `{"name":"Pad"}` {
		t.Errorf("unexpected result: %s", result)
	}

	seq := inv.sequence()
	want := []string{protocol.MethodTxnBegin, "object.create", protocol.MethodTxnCommit}
	if len(seq) != len(want) {
		t.Fatalf("expected sequence %v, got %v", want, seq)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Errorf("sequence[%d]: expected %s, got %s", i, want[i], seq[i])
		}
	}
}

func TestMutateRollsBackOnInvalid(t *testing.T) {
	inv := newFakeInvoker()
	g := newTestGuard(inv, fixedChecker{Validation{
		Verdict: VerdictInvalid,
		Reason:  `object "Pad" reports invalid state`,
	}})
	rec := &recordingRecorder{}
	g.SetRecorder(rec)

	_, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.edit",
		Document: "Bracket",
		Object:   "Pad",
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected bridge error, got %T", err)
	}
	if e.Kind != ErrorKindValidation {
		t.Errorf("expected validation kind, got %s", e.Kind)
	}
	if e.Message != `reverted: object "Pad" reports invalid state` {
		t.Errorf("unexpected message: %q", e.Message)
	}
	if e.Checkpoint == "" {
		t.Error("expected checkpoint label on error")
	}

	seq := inv.sequence()
	if seq[len(seq)-1] != protocol.MethodTxnAbort {
		t.Errorf("expected abort as final call, got %v", seq)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.txnOutcomes) != 1 || rec.txnOutcomes[0] != TxnRolledBack {
		t.Errorf("expected rolled_back transaction outcome, got %v", rec.txnOutcomes)
	}
}

func TestMutateRollsBackOnIndeterminate(t *testing.T) {
	inv := newFakeInvoker()
	g := newTestGuard(inv, fixedChecker{Validation{
		Verdict: VerdictIndeterminate,
		Reason:  "recompute timed out",
	}})

	_, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.edit",
		Document: "Bracket",
	})
	if err == nil {
		t.Fatal("expected error")
	}

	// Indeterminate is failure, not success
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected bridge error, got %T", err)
	}
	if e.Kind != ErrorKindValidation {
		t.Errorf("expected validation kind, got %s", e.Kind)
	}
	if e.Message != "reverted: validity indeterminate: recompute timed out" {
		t.Errorf("unexpected message: %q", e.Message)
	}
}

func TestMutateRollsBackOnCallFailure(t *testing.T) {
	inv := newFakeInvoker()
	inv.fail["object.edit"] = NewRemoteFaultError("sketch has no support", nil)
	g := newTestGuard(inv, fixedChecker{Validation{Verdict: VerdictValid}})

	_, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.edit",
		Document: "Bracket",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != ErrorKindRemoteFault {
		t.Errorf("expected remote_fault surfaced, got %s", KindOf(err))
	}

	seq := inv.sequence()
	if seq[len(seq)-1] != protocol.MethodTxnAbort {
		t.Errorf("expected rollback after call failure, got %v", seq)
	}
}

func TestMutateEscalatesFailedRollback(t *testing.T) {
	inv := newFakeInvoker()
	inv.fail["object.edit"] = NewRemoteFaultError("kernel error", nil)
	inv.fail[protocol.MethodTxnAbort] = NewTimeoutError("engine unresponsive", nil)

	degraded := false
	g := newTestGuardDegrade(inv, fixedChecker{Validation{Verdict: VerdictValid}}, &degraded)
	rec := &recordingRecorder{}
	g.SetRecorder(rec)

	_, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.edit",
		Document: "Bracket",
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected bridge error, got %T", err)
	}
	// The two failure classes must stay distinguishable
	if e.Kind != ErrorKindRollback {
		t.Errorf("expected rollback kind, got %s", e.Kind)
	}
	if !degraded {
		t.Error("expected failed rollback to force the connection degraded")
	}
	// The audit trail must not claim a rollback that never happened
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.txnOutcomes) != 1 || rec.txnOutcomes[0] != TxnRollbackFailed {
		t.Errorf("expected rollback_failed transaction outcome, got %v", rec.txnOutcomes)
	}
}

func TestMutateRequiresDocument(t *testing.T) {
	inv := newFakeInvoker()
	g := newTestGuard(inv, fixedChecker{Validation{Verdict: VerdictValid}})

	_, err := g.Mutate(context.Background(), Mutation{Method: "object.create"})
	if err == nil {
		t.Fatal("expected error for missing document")
	}
	if len(inv.sequence()) != 0 {
		t.Error("expected no invocations for rejected mutation")
	}
}

// denyGate rejects every mutation.
type denyGate struct{}

func (denyGate) Allow(ctx context.Context, method, document string) error {
	return NewPolicyError("blocked by policy")
}

func TestMutateGateBlocksBeforeCheckpoint(t *testing.T) {
	inv := newFakeInvoker()
	g := newTestGuard(inv, fixedChecker{Validation{Verdict: VerdictValid}})
	g.SetGate(denyGate{})

	_, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.create",
		Document: "Bracket",
	})
	if KindOf(err) != ErrorKindPolicy {
		t.Fatalf("expected policy error, got %v", err)
	}
	// Denied before any checkpoint was opened
	if len(inv.sequence()) != 0 {
		t.Errorf("expected no invocations, got %v", inv.sequence())
	}
}

func TestMutateSerializesPerDocument(t *testing.T) {
	inv := newFakeInvoker()
	g := newTestGuard(inv, fixedChecker{Validation{Verdict: VerdictValid}})

	// Hold the document slot so the mutation times out waiting
	if err := g.locks.acquire(context.Background(), "Bracket"); err != nil {
		t.Fatalf("failed to take slot: %v", err)
	}
	defer g.locks.release("Bracket")

	_, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.create",
		Document: "Bracket",
	})
	if KindOf(err) != ErrorKindBusy {
		t.Fatalf("expected busy error, got %v", err)
	}

	// A different document is unaffected
	if _, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.create",
		Document: "Enclosure",
	}); err != nil {
		t.Errorf("expected mutation on other document to run, got %v", err)
	}
}

// statefulInvoker models the engine's document object store with real
// checkpoint semantics: begin snapshots the objects, abort restores the
// snapshot, commit discards it. Mutating methods add an object.
type statefulInvoker struct {
	mu        sync.Mutex
	objects   map[string]map[string]bool
	snapshots map[string]map[string]bool
	fail      map[string]error
}

func newStatefulInvoker() *statefulInvoker {
	return &statefulInvoker{
		objects:   map[string]map[string]bool{},
		snapshots: map[string]map[string]bool{},
		fail:      map[string]error{},
	}
}

func (s *statefulInvoker) Invoke(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fail[method]; ok {
		return nil, err
	}

	doc := "Bracket"
	switch method {
	case protocol.MethodTxnBegin:
		snap := map[string]bool{}
		for name := range s.objects[doc] {
			snap[name] = true
		}
		s.snapshots[doc] = snap
	case protocol.MethodTxnAbort:
		restored := map[string]bool{}
		for name := range s.snapshots[doc] {
			restored[name] = true
		}
		s.objects[doc] = restored
		delete(s.snapshots, doc)
	case protocol.MethodTxnCommit:
		delete(s.snapshots, doc)
	default:
		if s.objects[doc] == nil {
			s.objects[doc] = map[string]bool{}
		}
		s.objects[doc][fmt.Sprintf("Obj%d", len(s.objects[doc])+1)] = true
	}
	return json.RawMessage(`{}`), nil
}

func (s *statefulInvoker) names(doc string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.objects[doc] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func TestRollbackRestoresExactObjectSet(t *testing.T) {
	inv := newStatefulInvoker()
	g := newTestGuard(inv, fixedChecker{Validation{Verdict: VerdictValid}})

	// Seed the document with committed objects
	if _, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.create",
		Document: "Bracket",
	}); err != nil {
		t.Fatalf("seed mutation failed: %v", err)
	}
	before := inv.names("Bracket")
	if len(before) != 1 {
		t.Fatalf("expected 1 seeded object, got %v", before)
	}

	// An invalid verdict must revert the document to exactly the pre-call
	// object set, not just roughly the same count
	g.checker = fixedChecker{Validation{Verdict: VerdictInvalid, Reason: "broken shape"}}
	_, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.create",
		Document: "Bracket",
	})
	if KindOf(err) != ErrorKindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	after := inv.names("Bracket")
	if len(after) != len(before) {
		t.Fatalf("object count changed across rollback: before %v, after %v", before, after)
	}
	for i := range before {
		if after[i] != before[i] {
			t.Errorf("object set changed across rollback: before %v, after %v", before, after)
		}
	}
}

// spanRecorder captures tracer activity for assertions.
type spanRecorder struct {
	mu       sync.Mutex
	started  []string
	finished []error
}

func (s *spanRecorder) StartInvokeSpan(ctx context.Context, method, mode string) (context.Context, func(error)) {
	return s.start(ctx, "invoke:"+method)
}

func (s *spanRecorder) StartTransactionSpan(ctx context.Context, label, document string) (context.Context, func(error)) {
	return s.start(ctx, "txn:"+document)
}

func (s *spanRecorder) start(ctx context.Context, name string) (context.Context, func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, name)
	return ctx, func(err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.finished = append(s.finished, err)
	}
}

func TestMutateTracesTransactionSpan(t *testing.T) {
	inv := newFakeInvoker()
	g := newTestGuard(inv, fixedChecker{Validation{Verdict: VerdictInvalid, Reason: "bad"}})
	spans := &spanRecorder{}
	g.SetTracer(spans)

	_, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.edit",
		Document: "Bracket",
	})
	if err == nil {
		t.Fatal("expected error")
	}

	spans.mu.Lock()
	defer spans.mu.Unlock()
	if len(spans.started) != 1 || spans.started[0] != "txn:Bracket" {
		t.Fatalf("expected one transaction span, got %v", spans.started)
	}
	if len(spans.finished) != 1 || spans.finished[0] == nil {
		t.Errorf("expected span finished with the mutation error, got %v", spans.finished)
	}
}

func TestGuardReportsTransactionMetrics(t *testing.T) {
	inv := newFakeInvoker()
	g := newTestGuard(inv, fixedChecker{Validation{Verdict: VerdictValid}})
	rec := &recordingMetrics{}
	g.SetMetrics(rec)

	if _, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.create",
		Document: "Bracket",
	}); err != nil {
		t.Fatalf("mutation failed: %v", err)
	}

	g.checker = fixedChecker{Validation{Verdict: VerdictInvalid, Reason: "bad"}}
	if _, err := g.Mutate(context.Background(), Mutation{
		Method:   "object.edit",
		Document: "Bracket",
	}); err == nil {
		t.Fatal("expected error")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{string(TxnCommitted), string(TxnRolledBack)}
	if len(rec.txnOutcomes) != len(want) {
		t.Fatalf("expected outcomes %v, got %v", want, rec.txnOutcomes)
	}
	for i := range want {
		if rec.txnOutcomes[i] != want[i] {
			t.Errorf("outcome[%d]: expected %s, got %s", i, want[i], rec.txnOutcomes[i])
		}
	}
}

func TestQuerySkipsCheckpointAndSlot(t *testing.T) {
	inv := newFakeInvoker()
	inv.results["document.get"] = json.RawMessage(`{"name":"Bracket"}`)
	g := newTestGuard(inv, fixedChecker{Validation{Verdict: VerdictValid}})
	rec := &recordingRecorder{}
	g.SetRecorder(rec)

	// Reads run even while a mutation holds the document slot
	if err := g.locks.acquire(context.Background(), "Bracket"); err != nil {
		t.Fatalf("failed to take slot: %v", err)
	}
	defer g.locks.release("Bracket")

	result, err := g.Query(context.Background(), "document.get", nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if string(result) != `{"name":"Bracket"}` {
		t.Errorf("unexpected result: %s", result)
	}

	seq := inv.sequence()
	if len(seq) != 1 || seq[0] != "document.get" {
		t.Errorf("expected a single bare invocation, got %v", seq)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.invocations) != 1 {
		t.Errorf("expected query recorded, got %v", rec.invocations)
	}
}
