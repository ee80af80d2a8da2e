package stores

import (
	"context"
	"time"
)

// Invocation is one recorded engine call.
type Invocation struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	Attempts   int       `json:"attempts"`
	Outcome    string    `json:"outcome"` // "ok" or an error kind
	DurationMS int64     `json:"duration_ms"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Transaction is one resolved undo checkpoint.
type Transaction struct {
	ID         int64     `json:"id"`
	Label      string    `json:"label"`
	Document   string    `json:"document"`
	Outcome    string    `json:"outcome"` // "committed" or "rolled_back"
	RecordedAt time.Time `json:"recorded_at"`
}

// Session is one connection to the engine, from handshake to shutdown.
type Session struct {
	InstanceID     string     `json:"instance_id"`
	Mode           string     `json:"mode"`
	Host           string     `json:"host"`
	Port           int        `json:"port"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
}

// Store defines the interface for the audit persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Invocation operations
	AppendInvocation(ctx context.Context, inv *Invocation) error
	ListInvocations(ctx context.Context, method *string, outcome *string, limit, offset int) ([]*Invocation, error)

	// Transaction operations
	AppendTransaction(ctx context.Context, txn *Transaction) error
	ListTransactions(ctx context.Context, document *string, limit, offset int) ([]*Transaction, error)

	// Session operations
	CreateSession(ctx context.Context, s *Session) error
	CloseSession(ctx context.Context, instanceID string) error
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)

	// Utility
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	HealthCheck(ctx context.Context) error
}
