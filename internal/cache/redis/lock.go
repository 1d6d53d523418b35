package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// Both scripts act only while the key still holds the owner's token, so a
// replica whose lease expired cannot release or extend its successor's.
var (
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)
)

const releaseTimeout = 5 * time.Second

// LockManager hands out leases on named Redis keys. The monitor takes one per
// cycle so a single replica recomputes the watchlist. A held lease is renewed
// at a third of its TTL until released, so a slow cycle keeps its lease.
type LockManager struct {
	rdb  *redis.Client
	keys keyspace
}

// NewLockManager returns a LockManager using c's key prefix.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying(), keys: c.keys}
}

// Acquire takes the lease on name for ttl. It returns domain.ErrLockHeld when
// another owner has it. The returned release func is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	l := &lease{rdb: lm.rdb, key: lm.keys.lock(name), token: uuid.NewString(), ttl: ttl}

	ok, err := lm.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: lock %s: %w", name, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	l.stop = make(chan struct{})
	go l.keepAlive()
	return l.release, nil
}

type lease struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration

	stop chan struct{}
	once sync.Once
}

// renew extends the lease. It reports false once the key is gone or owned by
// someone else.
func (l *lease) renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	return n == 1, err
}

func (l *lease) keepAlive() {
	every := l.ttl / 3
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			held, err := l.renew(ctx)
			cancel()
			if err == nil && !held {
				return
			}
		}
	}
}

func (l *lease) release() {
	l.once.Do(func() {
		close(l.stop)
		// Runs after the caller's context may have ended.
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
	})
}

var _ domain.LockManager = (*LockManager)(nil)
