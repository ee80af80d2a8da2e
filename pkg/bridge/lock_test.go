package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDocLocksExclusivePerDocument(t *testing.T) {
	locks := newDocLocks()

	if err := locks.acquire(context.Background(), "Bracket"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := locks.acquire(ctx, "Bracket")
	if KindOf(err) != ErrorKindBusy {
		t.Fatalf("expected busy for held slot, got %v", err)
	}

	locks.release("Bracket")
	if err := locks.acquire(context.Background(), "Bracket"); err != nil {
		t.Errorf("acquire after release failed: %v", err)
	}
	locks.release("Bracket")
}

func TestDocLocksIndependentDocuments(t *testing.T) {
	locks := newDocLocks()

	if err := locks.acquire(context.Background(), "Bracket"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer locks.release("Bracket")

	// Holding one document never blocks another
	if err := locks.acquire(context.Background(), "Enclosure"); err != nil {
		t.Errorf("independent document blocked: %v", err)
	}
	locks.release("Enclosure")
}

func TestDocLocksWaiterProceedsOnRelease(t *testing.T) {
	locks := newDocLocks()
	if err := locks.acquire(context.Background(), "Bracket"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := make(chan error, 1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		acquired <- locks.acquire(ctx, "Bracket")
	}()

	time.Sleep(10 * time.Millisecond)
	locks.release("Bracket")

	if err := <-acquired; err != nil {
		t.Errorf("waiter did not get the slot after release: %v", err)
	}
	wg.Wait()
	locks.release("Bracket")
}

func TestDocLocksDropFreeSlots(t *testing.T) {
	locks := newDocLocks()

	if err := locks.acquire(context.Background(), "Bracket"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := locks.acquire(context.Background(), "Enclosure"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	// A timed-out waiter must not pin the entry either
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := locks.acquire(ctx, "Bracket"); KindOf(err) != ErrorKindBusy {
		t.Fatalf("expected busy, got %v", err)
	}

	locks.release("Bracket")
	locks.release("Enclosure")

	// Entries for idle documents are dropped, so the map tracks in-flight
	// mutations rather than every document name ever seen
	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.slots) != 0 {
		t.Errorf("expected no retained slots, got %d", len(locks.slots))
	}
}

func TestDocLocksBusyErrorNamesDocument(t *testing.T) {
	locks := newDocLocks()
	if err := locks.acquire(context.Background(), "Bracket"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer locks.release("Bracket")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := locks.acquire(ctx, "Bracket")

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected classified error, got %T", err)
	}
	if e.Document != "Bracket" {
		t.Errorf("expected document on busy error, got %q", e.Document)
	}
}
