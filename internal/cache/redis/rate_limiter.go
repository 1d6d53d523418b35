package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/troveview/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// Wait never sleeps longer than this between attempts, so a freed slot taken
// by another replica is noticed quickly.
const maxWaitStep = time.Second

// RateLimiter is a sliding-window domain.RateLimiter shared by every replica.
// The API middleware meters clients with Allow; chain reads pace themselves
// with Wait.
type RateLimiter struct {
	rdb    *redis.Client
	keys   keyspace
	script *redis.Script

	// budget applied by Wait
	perWindow int
	window    time.Duration
}

// NewRateLimiter returns a limiter whose Wait admits perWindow calls per
// window. Non-positive values mean one call per second.
func NewRateLimiter(c *Client, perWindow int, window time.Duration) *RateLimiter {
	if perWindow <= 0 || window <= 0 {
		perWindow, window = 1, time.Second
	}
	return &RateLimiter{
		rdb:       c.Underlying(),
		keys:      c.keys,
		script:    redis.NewScript(slidingWindowLua),
		perWindow: perWindow,
		window:    window,
	}
}

// verdict is one evaluation of the window.
type verdict struct {
	admitted bool
	retryIn  time.Duration
}

func (rl *RateLimiter) take(ctx context.Context, key string, limit int, window time.Duration) (verdict, error) {
	res, err := rl.script.Run(ctx, rl.rdb,
		[]string{rl.keys.rateLimit(key)},
		time.Now().UnixMicro(), window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return verdict{}, err
	}
	if len(res) != 3 {
		return verdict{}, fmt.Errorf("sliding window returned %d values", len(res))
	}
	return verdict{admitted: res[0] == 1, retryIn: time.Duration(res[2]) * time.Microsecond}, nil
}

// Allow admits and counts the request if key has fewer than limit requests
// in the trailing window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	v, err := rl.take(ctx, key, limit, window)
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return v.admitted, nil
}

// Wait blocks until key is admitted under the limiter's own budget. It
// sleeps until the oldest request leaves the window rather than polling.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		v, err := rl.take(ctx, key, rl.perWindow, rl.window)
		if err != nil {
			return fmt.Errorf("redis: rate limit wait %s: %w", key, err)
		}
		if v.admitted {
			return nil
		}

		step := min(max(v.retryIn, time.Millisecond), maxWaitStep)
		t := time.NewTimer(step)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
