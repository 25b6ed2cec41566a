package driven

import (
	"context"
	"time"
)

// DistributedLock serializes work across instances.
// Ingestion takes it so only one writer replaces the index at a time.
type DistributedLock interface {
	// Acquire attempts to acquire a named lock with the given TTL.
	// Returns false if another holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release releases a named lock held by this instance.
	// Safe to call if the lock is not held or has expired.
	Release(ctx context.Context, name string) error

	// Extend extends the TTL of a held lock.
	// Backends without TTLs (PostgreSQL advisory locks) treat this as a check.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}
