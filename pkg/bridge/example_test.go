package bridge_test

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cadbridge/cadbridge/pkg/bridge"
	"github.com/cadbridge/cadbridge/pkg/policy"
	"github.com/cadbridge/cadbridge/pkg/stores"
	"github.com/cadbridge/cadbridge/pkg/transports/socketrpc"
)

// Example assembles the full bridge stack: transport, connection manager,
// validation, transaction guard, policy gate, and audit trail.
func Example() {
	logger := zerolog.New(zerolog.NewConsoleWriter())
	ctx := context.Background()

	transport := socketrpc.New(socketrpc.Config{
		Host: "127.0.0.1",
		Port: socketrpc.DefaultPort,
	})

	mgr := bridge.NewManager(transport, bridge.ManagerConfig{
		Retry:       bridge.DefaultRetryPolicy(),
		CallTimeout: 30 * time.Second,
	}, logger)
	if err := mgr.Connect(ctx); err != nil {
		fmt.Println("engine unreachable:", err)
		return
	}
	defer mgr.Shutdown()

	checker := bridge.NewValidationEngine(mgr, true, logger)
	guard := bridge.NewTransactionGuard(mgr, checker, bridge.GuardConfig{}, logger)

	// Optional: gate mutations through the builtin policies.
	engine, err := policy.NewEngine(logger)
	if err != nil {
		fmt.Println("policy engine:", err)
		return
	}
	guard.SetGate(policy.NewMutationGate(engine, true, logger))

	// Optional: persist the audit trail.
	store, err := stores.NewSQLiteStore(stores.Config{Path: "audit.db"})
	if err == nil && store.Init(ctx) == nil && store.Migrate(ctx) == nil {
		defer store.Close()
		guard.SetRecorder(stores.NewAuditRecorder(store, logger))
	}

	result, err := guard.Mutate(ctx, bridge.Mutation{
		Method:   "object.create",
		Params:   map[string]any{"document": "Bracket", "type": "PartDesign::Pad"},
		Document: "Bracket",
		Object:   "Pad",
	})
	if err != nil {
		fmt.Println("mutation reverted:", err)
		return
	}
	fmt.Println("created:", string(result))
}
