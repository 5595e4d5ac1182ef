package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter over redis, used to throttle the
// credential endpoints per client IP.
type RateLimiter struct {
	client    *redis.Client
	limit     int
	interval  time.Duration
	blockTime time.Duration
}

func NewRateLimiter(client *redis.Client, limit int, interval, blockTime time.Duration) *RateLimiter {
	return &RateLimiter{
		client:    client,
		limit:     limit,
		interval:  interval,
		blockTime: blockTime,
	}
}

// Allow increments the window counter for key and reports whether the caller
// is still within the limit. Crossing the limit blocks the key for the
// configured block time.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	blockKey := "ratelimit:block:" + key

	blocked, err := l.client.Exists(ctx, blockKey).Result()
	if err != nil {
		return false, fmt.Errorf("check block key: %w", err)
	}
	if blocked > 0 {
		return false, nil
	}

	countKey := "ratelimit:count:" + key

	// ExpireNX arms the TTL only when the counter has none, so the window
	// runs out on schedule no matter how the requests inside it are spaced.
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, countKey)
	pipe.ExpireNX(ctx, countKey, l.interval)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("increment window counter: %w", err)
	}

	if incr.Val() > int64(l.limit) {
		if err := l.client.Set(ctx, blockKey, "blocked", l.blockTime).Err(); err != nil {
			return false, fmt.Errorf("set block key: %w", err)
		}
		return false, nil
	}

	return true, nil
}
