package bridge

import (
	"context"
	"sync"
)

// docLocks hands out one exclusive execution slot per document name.
// The remote document model is not safe under concurrent mutation, so a
// mutation holds its document's slot from checkpoint open to commit or
// rollback. Reads never take a slot.
type docLocks struct {
	mu    sync.Mutex
	slots map[string]*docSlot
}

// docSlot is one document's slot plus a count of holders and waiters.
// The entry is dropped from the map when the count reaches zero, so the
// map size is bounded by the number of in-flight mutations, not by the
// number of document names ever seen.
type docSlot struct {
	ch   chan struct{}
	refs int
}

func newDocLocks() *docLocks {
	return &docLocks{
		slots: make(map[string]*docSlot),
	}
}

// acquire blocks until the document's slot is free or the context expires.
// Returns a busy error on expiry rather than queuing unboundedly.
func (l *docLocks) acquire(ctx context.Context, doc string) error {
	l.mu.Lock()
	slot, ok := l.slots[doc]
	if !ok {
		slot = &docSlot{ch: make(chan struct{}, 1)}
		l.slots[doc] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(doc, slot)
		return NewBusyError("document busy with another mutation").WithDocument(doc)
	}
}

// release frees the document's slot. Must only be called after a
// successful acquire.
func (l *docLocks) release(doc string) {
	l.mu.Lock()
	slot := l.slots[doc]
	l.mu.Unlock()
	if slot == nil {
		return
	}
	<-slot.ch
	l.unref(doc, slot)
}

func (l *docLocks) unref(doc string, slot *docSlot) {
	l.mu.Lock()
	slot.refs--
	if slot.refs == 0 && l.slots[doc] == slot {
		delete(l.slots, doc)
	}
	l.mu.Unlock()
}
