package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/poolwatch/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes the lock only while it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua pushes the expiry out only while the caller still holds the lock.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager and domain.LeaseManager with
// SET NX and token-checked release and renewal. The archive job takes a
// one-shot lock; producer election holds a renewed lease.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	renewSc  *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		renewSc:  redis.NewScript(renewLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for ttl. It returns domain.ErrLockHeld when another
// holder owns it. The returned unlock func is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	_, unlock, err := lm.acquire(ctx, key, ttl)
	return unlock, err
}

// Lease takes the lock for ttl and returns a handle that can renew it.
func (lm *LockManager) Lease(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token, unlock, err := lm.acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return &lease{lm: lm, key: key, token: token, ttl: ttl, release: unlock}, nil
}

func (lm *LockManager) acquire(ctx context.Context, key string, ttl time.Duration) (string, func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return "", nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return token, func() {
		once.Do(func() {
			// The caller's context may already be cancelled at release time.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(releaseCtx, lm.rdb, []string{lk}, token).Err()
		})
	}, nil
}

type lease struct {
	lm      *LockManager
	key     string
	token   string
	ttl     time.Duration
	release func()
}

func (l *lease) Renew(ctx context.Context) error {
	n, err := l.lm.renewSc.Run(ctx, l.lm.rdb, []string{lockKey(l.key)}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: renew lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: renew lock %s: %w", l.key, domain.ErrLockHeld)
	}
	return nil
}

func (l *lease) Release() { l.release() }

var (
	_ domain.LockManager  = (*LockManager)(nil)
	_ domain.LeaseManager = (*LockManager)(nil)
)
