package credits

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	allocated int
	used      int
	resetAt   time.Time
}

// MemoryLedger is an in-process Ledger guarded by a single mutex. Suitable
// for tests and single-node deployments.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*memoryEntry)}
}

// entry returns the live entry for key, creating or resetting it under the
// held lock so concurrent callers cannot observe a stale balance.
func (l *MemoryLedger) entry(key string, pol Policy, now time.Time) *memoryEntry {
	e, ok := l.entries[key]
	if !ok {
		e = &memoryEntry{allocated: pol.Allocation, resetAt: pol.NextReset(now)}
		l.entries[key] = e
		return e
	}
	if !now.Before(e.resetAt) {
		e.used = 0
		e.allocated = pol.Allocation
		e.resetAt = pol.NextReset(now)
	}
	return e
}

func (l *MemoryLedger) Balance(ctx context.Context, key string, pol Policy, now time.Time) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entry(key, pol, now)
	return Balance{Allocated: e.allocated, Used: e.used, ResetAt: e.resetAt}, nil
}

func (l *MemoryLedger) Deduct(ctx context.Context, key string, pol Policy, amount int, now time.Time) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entry(key, pol, now)
	e.used += amount
	if e.used > e.allocated {
		e.used = e.allocated
	}
	return Balance{Allocated: e.allocated, Used: e.used, ResetAt: e.resetAt}, nil
}
