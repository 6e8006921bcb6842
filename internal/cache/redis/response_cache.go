package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/poolwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ResponseCache implements domain.ResponseCache with plain string keys and
// server-side expiry, so every instance shares one upstream budget.
//
// Key schema:
//
//	cache:{key} - serialized response, expires after the caller's TTL
type ResponseCache struct {
	rdb *redis.Client
}

// NewResponseCache creates a ResponseCache backed by the given Client.
func NewResponseCache(c *Client) *ResponseCache {
	return &ResponseCache{rdb: c.Underlying()}
}

func responseKey(key string) string { return "cache:" + key }

// Get returns the cached bytes; a missing or expired key is a miss.
func (rc *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := rc.rdb.Get(ctx, responseKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: cache get %s: %w", key, err)
	}
	return data, true, nil
}

// Set stores data with the given TTL.
func (rc *ResponseCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		if err := rc.rdb.Del(ctx, responseKey(key)).Err(); err != nil {
			return fmt.Errorf("redis: cache del %s: %w", key, err)
		}
		return nil
	}
	if err := rc.rdb.Set(ctx, responseKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: cache set %s: %w", key, err)
	}
	return nil
}

var _ domain.ResponseCache = (*ResponseCache)(nil)
