package stores

import (
	"context"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	tables := []string{"invocations", "transactions", "sessions"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestInvocationAppendList tests appending and listing invocations
func TestInvocationAppendList(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	inv := &Invocation{
		ID:         "inv-001",
		Method:     "document.recompute",
		Attempts:   2,
		Outcome:    "ok",
		DurationMS: 42,
		RecordedAt: now,
	}

	if err := store.AppendInvocation(ctx, inv); err != nil {
		t.Fatalf("failed to append invocation: %v", err)
	}

	failed := &Invocation{
		ID:         "inv-002",
		Method:     "object.get",
		Attempts:   3,
		Outcome:    "timeout",
		DurationMS: 30000,
		RecordedAt: now,
	}
	if err := store.AppendInvocation(ctx, failed); err != nil {
		t.Fatalf("failed to append invocation: %v", err)
	}

	all, err := store.ListInvocations(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list invocations: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(all))
	}

	outcome := "timeout"
	timeouts, err := store.ListInvocations(ctx, nil, &outcome, 10, 0)
	if err != nil {
		t.Fatalf("failed to list invocations by outcome: %v", err)
	}
	if len(timeouts) != 1 {
		t.Fatalf("expected 1 timeout invocation, got %d", len(timeouts))
	}
	if timeouts[0].ID != "inv-002" {
		t.Errorf("expected inv-002, got %s", timeouts[0].ID)
	}
	if timeouts[0].Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", timeouts[0].Attempts)
	}
}

// TestTransactionAppendList tests appending and listing transactions
func TestTransactionAppendList(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	txn := &Transaction{
		Label:      "object.create-a1b2c3d4",
		Document:   "Bracket",
		Outcome:    "committed",
		RecordedAt: now,
	}

	if err := store.AppendTransaction(ctx, txn); err != nil {
		t.Fatalf("failed to append transaction: %v", err)
	}
	if txn.ID == 0 {
		t.Error("expected auto-generated transaction ID")
	}

	reverted := &Transaction{
		Label:      "object.delete-e5f6a7b8",
		Document:   "Bracket",
		Outcome:    "rolled_back",
		RecordedAt: now,
	}
	if err := store.AppendTransaction(ctx, reverted); err != nil {
		t.Fatalf("failed to append transaction: %v", err)
	}

	doc := "Bracket"
	txns, err := store.ListTransactions(ctx, &doc, 10, 0)
	if err != nil {
		t.Fatalf("failed to list transactions: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txns))
	}

	other := "Enclosure"
	none, err := store.ListTransactions(ctx, &other, 10, 0)
	if err != nil {
		t.Fatalf("failed to list transactions: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected 0 transactions for other document, got %d", len(none))
	}
}

// TestTransactionOutcomeConstraint tests the outcome CHECK constraint
func TestTransactionOutcomeConstraint(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	bad := &Transaction{
		Label:      "x",
		Document:   "Doc",
		Outcome:    "pending",
		RecordedAt: time.Now(),
	}
	if err := store.AppendTransaction(ctx, bad); err == nil {
		t.Error("expected error for invalid transaction outcome")
	}

	// A failed rollback is a legal, distinct audit outcome
	fatal := &Transaction{
		Label:      "object.edit-c9d0e1f2",
		Document:   "Doc",
		Outcome:    "rollback_failed",
		RecordedAt: time.Now(),
	}
	if err := store.AppendTransaction(ctx, fatal); err != nil {
		t.Errorf("expected rollback_failed accepted, got %v", err)
	}
}

// TestSessionLifecycle tests session creation and closure
func TestSessionLifecycle(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	sess := &Session{
		InstanceID:  "sess-001",
		Mode:        "socket-rpc",
		Host:        "127.0.0.1",
		Port:        9876,
		ConnectedAt: time.Now(),
	}

	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	if err := store.CloseSession(ctx, "sess-001"); err != nil {
		t.Fatalf("failed to close session: %v", err)
	}

	// Closing an already-closed session is an error
	if err := store.CloseSession(ctx, "sess-001"); err == nil {
		t.Error("expected error closing already-closed session")
	}

	if err := store.CloseSession(ctx, "no-such-session"); err == nil {
		t.Error("expected error for unknown session")
	}

	sessions, err := store.ListSessions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].DisconnectedAt == nil {
		t.Error("expected disconnected_at to be set")
	}
}

// TestPruneBefore tests audit retention pruning
func TestPruneBefore(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	for i, ts := range []time.Time{old, recent} {
		inv := &Invocation{
			ID:         "inv-" + string(rune('a'+i)),
			Method:     "ping",
			Attempts:   1,
			Outcome:    "ok",
			RecordedAt: ts,
		}
		if err := store.AppendInvocation(ctx, inv); err != nil {
			t.Fatalf("failed to append invocation: %v", err)
		}
	}

	pruned, err := store.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned row, got %d", pruned)
	}

	remaining, err := store.ListInvocations(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list invocations: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining invocation, got %d", len(remaining))
	}
}
