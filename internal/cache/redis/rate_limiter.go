package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veilbet/veilbet/internal/domain"
)

// fixedWindowLua counts a request and stamps the window TTL on first hit,
// atomically. Returns the count within the current window.
const fixedWindowLua = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`

const waitPollInterval = 50 * time.Millisecond

// RateLimiter is a fixed-window counter per key. The API middleware keys it
// by client IP.
type RateLimiter struct {
	rdb         *redis.Client
	fixedWindow *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:         c.Underlying(),
		fixedWindow: redis.NewScript(fixedWindowLua),
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// Allow counts a request against key and reports whether it fits within
// limit requests per window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := rl.fixedWindow.Run(
		ctx,
		rl.rdb,
		[]string{"ratelimit:" + key},
		window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return count <= int64(limit), nil
}

// Wait blocks until key admits a request at 1 rps, polling between
// attempts. Callers needing other rates should loop over Allow themselves.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := rl.Allow(ctx, key, 1, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}
