package redis

import (
	"context"
	"time"
)

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireRideLock(ctx context.Context, rideID string, ttl time.Duration) (bool, error)
	ReleaseRideLock(ctx context.Context, rideID string) error
}

// IdempotencyStoreInterface defines the interface for fingerprint-keyed result caching.
type IdempotencyStoreInterface interface {
	Get(ctx context.Context, fingerprint string) (*IdempotencyRecord, error)
	Begin(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
	Charged(ctx context.Context, fingerprint string, result []byte, ttl time.Duration) error
	Complete(ctx context.Context, fingerprint string, result []byte, ttl time.Duration) error
	Abandon(ctx context.Context, fingerprint string) error
}

// Ensure concrete types implement interfaces.
var (
	_ LockStoreInterface        = (*LockStore)(nil)
	_ IdempotencyStoreInterface = (*IdempotencyStore)(nil)
)
