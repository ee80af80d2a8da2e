package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// AppendInvocation records one engine call.
func (s *SQLiteStore) AppendInvocation(ctx context.Context, inv *Invocation) error {
	query := `
		INSERT INTO invocations (id, method, attempts, outcome, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		inv.ID,
		inv.Method,
		inv.Attempts,
		inv.Outcome,
		inv.DurationMS,
		inv.RecordedAt.UTC().Format("2006-01-02 15:04:05"),
	)

	if err != nil {
		return fmt.Errorf("failed to append invocation: %w", err)
	}

	return nil
}

// ListInvocations lists recorded calls with optional filters and pagination
func (s *SQLiteStore) ListInvocations(ctx context.Context, method *string, outcome *string, limit, offset int) ([]*Invocation, error) {
	query := `
		SELECT id, method, attempts, outcome, duration_ms, recorded_at
		FROM invocations
		WHERE (? IS NULL OR method = ?)
		  AND (? IS NULL OR outcome = ?)
		ORDER BY recorded_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, method, method, outcome, outcome, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	invs := []*Invocation{}
	for rows.Next() {
		inv := &Invocation{}
		err := rows.Scan(
			&inv.ID,
			&inv.Method,
			&inv.Attempts,
			&inv.Outcome,
			&inv.DurationMS,
			&inv.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		invs = append(invs, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocations: %w", err)
	}

	return invs, nil
}

// AppendTransaction records one resolved checkpoint.
func (s *SQLiteStore) AppendTransaction(ctx context.Context, txn *Transaction) error {
	query := `
		INSERT INTO transactions (label, document, outcome, recorded_at)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		txn.Label,
		txn.Document,
		txn.Outcome,
		txn.RecordedAt.UTC().Format("2006-01-02 15:04:05"),
	)

	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transaction ID: %w", err)
	}

	txn.ID = id
	return nil
}

// ListTransactions lists resolved checkpoints with optional document filter
func (s *SQLiteStore) ListTransactions(ctx context.Context, document *string, limit, offset int) ([]*Transaction, error) {
	query := `
		SELECT id, label, document, outcome, recorded_at
		FROM transactions
		WHERE (? IS NULL OR document = ?)
		ORDER BY recorded_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, document, document, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txns := []*Transaction{}
	for rows.Next() {
		txn := &Transaction{}
		err := rows.Scan(
			&txn.ID,
			&txn.Label,
			&txn.Document,
			&txn.Outcome,
			&txn.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txns, nil
}

// CreateSession records a freshly validated connection.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	query := `
		INSERT INTO sessions (instance_id, mode, host, port, connected_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		sess.InstanceID,
		sess.Mode,
		sess.Host,
		sess.Port,
		sess.ConnectedAt.UTC().Format("2006-01-02 15:04:05"),
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// CloseSession marks a session as disconnected.
func (s *SQLiteStore) CloseSession(ctx context.Context, instanceID string) error {
	query := `
		UPDATE sessions
		SET disconnected_at = CURRENT_TIMESTAMP
		WHERE instance_id = ? AND disconnected_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, instanceID)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("session not found: %s", instanceID)
	}

	return nil
}

// ListSessions lists sessions with pagination, most recent first
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	query := `
		SELECT instance_id, mode, host, port, connected_at, disconnected_at
		FROM sessions
		ORDER BY connected_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		sess := &Session{}
		err := rows.Scan(
			&sess.InstanceID,
			&sess.Mode,
			&sess.Host,
			&sess.Port,
			&sess.ConnectedAt,
			&sess.DisconnectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// PruneBefore deletes audit rows recorded before the cutoff.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cut := cutoff.UTC().Format("2006-01-02 15:04:05")

	var total int64
	for _, query := range []string{
		`DELETE FROM invocations WHERE datetime(recorded_at) < datetime(?)`,
		`DELETE FROM transactions WHERE datetime(recorded_at) < datetime(?)`,
		`DELETE FROM sessions WHERE disconnected_at IS NOT NULL AND datetime(disconnected_at) < datetime(?)`,
	} {
		result, err := s.db.ExecContext(ctx, query, cut)
		if err != nil {
			return total, fmt.Errorf("failed to prune audit rows: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += rows
	}

	return total, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
