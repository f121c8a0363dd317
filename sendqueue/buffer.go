package sendqueue

import "sync"

// buffer is one priority's ordered byte queue of appended fragments, per
// spec §3 "Send fragment buffer (per priority)". Append is safe to call
// concurrently with TryPop/RegisterWaiter; the mutual exclusion across an
// entire multi-fragment object write is the caller's (Queue's) job via a
// separate per-priority writer mutex — this type only protects its own
// slice and one-shot waiter slot.
type buffer struct {
	mu        sync.Mutex
	chunks    [][]byte
	waiter    func()
	waiterGen uint64
}

func newBuffer() *buffer {
	return &buffer{}
}

// Append adds one wire-encoded fragment to the tail of the queue. If the
// buffer was empty and a waiter is registered, it fires exactly once,
// after the lock is released.
func (b *buffer) Append(encoded []byte) error {
	b.mu.Lock()
	wasEmpty := len(b.chunks) == 0
	b.chunks = append(b.chunks, encoded)

	var fire func()
	if wasEmpty && b.waiter != nil {
		fire = b.waiter
		b.waiter = nil
	}
	b.mu.Unlock()

	if fire != nil {
		fire()
	}
	return nil
}

// TryPop removes and returns the head fragment, if any.
func (b *buffer) TryPop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return nil, false
	}
	data := b.chunks[0]
	b.chunks = b.chunks[1:]
	return data, true
}

// RegisterWaiter installs fn as the one-shot notifier for the next
// empty-to-non-empty transition. It fails (ok=false) if the buffer
// already has data, so the caller can pop immediately instead of racing
// a notification that will never fire for already-present data.
func (b *buffer) RegisterWaiter(fn func()) (token uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) > 0 {
		return 0, false
	}
	b.waiterGen++
	b.waiter = fn
	return b.waiterGen, true
}

// CancelWaiter clears the registered waiter if it is still the one
// identified by token (i.e. it has not already fired or been replaced).
func (b *buffer) CancelWaiter(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.waiterGen == token {
		b.waiter = nil
	}
}

// Clear discards all pending fragments. Any registered waiter is left in
// place; there is nothing to notify it about.
func (b *buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
}

// Len reports the number of fragments currently queued, for metrics.
func (b *buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}
