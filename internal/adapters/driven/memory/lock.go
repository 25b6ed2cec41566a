package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

// Lock is a process-local lock with TTLs.
// It serializes ingestion runs inside one process when no Redis or
// PostgreSQL backend is configured.
type Lock struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewLock creates a process-local lock.
func NewLock() *Lock {
	return &Lock{expires: make(map[string]time.Time), now: time.Now}
}

// Acquire takes the named lock unless an unexpired holder has it.
func (l *Lock) Acquire(_ context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.expires[name]; ok && now.Before(exp) {
		return false, nil
	}
	l.expires[name] = now.Add(ttl)
	return true, nil
}

// Release drops the named lock. Releasing a free lock is a no-op.
func (l *Lock) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.expires, name)
	return nil
}

// Extend pushes the expiry of a held lock.
func (l *Lock) Extend(_ context.Context, name string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	exp, ok := l.expires[name]
	if !ok || !now.Before(exp) {
		return fmt.Errorf("lock %s not held", name)
	}
	l.expires[name] = now.Add(ttl)
	return nil
}

// Ping always succeeds.
func (l *Lock) Ping(_ context.Context) error {
	return nil
}
