// Package stores provides the persistence layer for the bridge audit
// trail. It includes SQLite-based storage with WAL mode, embedded
// migrations, and append/list operations for invocations, transactions,
// and connection sessions.
package stores
