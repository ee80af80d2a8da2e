package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cadbridge/cadbridge/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_AppendInvocation demonstrates recording an engine call.
func ExampleSQLiteStore_AppendInvocation() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	inv := &stores.Invocation{
		ID:         "inv-001",
		Method:     "document.recompute",
		Attempts:   1,
		Outcome:    "ok",
		DurationMS: 17,
		RecordedAt: time.Now(),
	}

	if err := store.AppendInvocation(ctx, inv); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Invocation recorded")
	// Output: Invocation recorded
}
