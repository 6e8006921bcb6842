package domain

import (
	"context"
	"time"
)

// ResponseCache stores serialized upstream responses for a short TTL.
// Get reports ok=false on a miss or an expired entry.
type ResponseCache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Lease is a held, renewable lock. Renew returns ErrLockHeld once the lease
// has expired or passed to another holder.
type Lease interface {
	Renew(ctx context.Context) error
	Release()
}

// LeaseManager grants renewable leases for leader election.
type LeaseManager interface {
	Lease(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// SignalBus provides pub/sub between instances.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
