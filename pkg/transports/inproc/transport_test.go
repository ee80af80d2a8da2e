package inproc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cadbridge/cadbridge/pkg/bridge"
	"github.com/cadbridge/cadbridge/pkg/bridge/protocol"
)

// fakeEngine answers scripted results and errors per method.
type fakeEngine struct {
	results map[string]json.RawMessage
	errs    map[string]error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		results: map[string]json.RawMessage{
			protocol.MethodPing: json.RawMessage(`"pong"`),
		},
		errs: map[string]error{},
	}
}

func (e *fakeEngine) Execute(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if err, ok := e.errs[method]; ok {
		return nil, err
	}
	if res, ok := e.results[method]; ok {
		return res, nil
	}
	return json.RawMessage(`{}`), nil
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(nil)
	if bridge.KindOf(err) != bridge.ErrorKindConnection {
		t.Errorf("expected connection error for nil engine, got %v", err)
	}
}

func TestPingAndCall(t *testing.T) {
	engine := newFakeEngine()
	engine.results["document.get"] = json.RawMessage(`{"name":"Bracket","objects":[]}`)

	tr, err := New(engine)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	ctx := context.Background()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := tr.Ping(ctx); err != nil {
		t.Errorf("ping failed: %v", err)
	}

	result, err := tr.Call(ctx, "document.get", nil)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	var doc protocol.DocumentInfo
	if err := protocol.ParseResult(result, &doc); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if doc.Name != "Bracket" {
		t.Errorf("expected Bracket, got %s", doc.Name)
	}
}

func TestDomainErrorIsRemoteFault(t *testing.T) {
	engine := newFakeEngine()
	engine.errs["object.edit"] = &protocol.ErrorBody{
		Kind:    protocol.ErrorKindFault,
		Message: "sketch has no support",
	}

	tr, err := New(engine)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	_, callErr := tr.Call(context.Background(), "object.edit", nil)
	if bridge.KindOf(callErr) != bridge.ErrorKindRemoteFault {
		t.Errorf("expected remote_fault, got %v", callErr)
	}
}

func TestDeadlineIsTimeout(t *testing.T) {
	engine := newFakeEngine()
	engine.errs["document.recompute"] = context.DeadlineExceeded

	tr, err := New(engine)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	_, callErr := tr.Call(context.Background(), "document.recompute", nil)
	if bridge.KindOf(callErr) != bridge.ErrorKindTimeout {
		t.Errorf("expected timeout, got %v", callErr)
	}
}

func TestClosedTransportRejectsCalls(t *testing.T) {
	tr, err := New(newFakeEngine())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	_, callErr := tr.Call(context.Background(), "ping", nil)
	if bridge.KindOf(callErr) != bridge.ErrorKindConnection {
		t.Errorf("expected connection error after close, got %v", callErr)
	}

	// Connect reopens the transport
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if err := tr.Ping(context.Background()); err != nil {
		t.Errorf("ping after reconnect failed: %v", err)
	}
}
