package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestDebtCache_RoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	cache := NewDebtCache(c, time.Minute)
	ctx := context.Background()
	ref := domain.TroveRef{CollateralType: domain.CollateralWETH, ID: "0x2a"}

	_, err := cache.Get(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	calculated := time.Unix(1_750_000_000, 0).UTC()
	in := domain.DebtInFrontResult{
		CollateralType: ref.CollateralType,
		TroveID:        ref.ID,
		InterestRate:   4.2,
		DebtInFront:    decimal.RequireFromString("123456.789"),
		TrovesAhead:    3,
		LowerBound:     true,
		LastCalculated: calculated,
	}
	require.NoError(t, cache.Set(ctx, in))
	assert.Equal(t, time.Minute, mr.TTL("troveview:debt:WETH:0x2a"))

	out, err := cache.Get(ctx, ref)
	require.NoError(t, err)
	assert.True(t, in.DebtInFront.Equal(out.DebtInFront))
	assert.Equal(t, 3, out.TrovesAhead)
	assert.True(t, out.LowerBound)
	assert.True(t, calculated.Equal(out.LastCalculated))

	require.NoError(t, cache.Invalidate(ctx, ref))
	_, err = cache.Get(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDebtCache_Expires(t *testing.T) {
	c, mr := newTestClient(t)
	cache := NewDebtCache(c, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, domain.DebtInFrontResult{CollateralType: domain.CollateralRETH, TroveID: "1"}))
	mr.FastForward(2 * time.Minute)

	_, err := cache.Get(ctx, domain.TroveRef{CollateralType: domain.CollateralRETH, ID: "1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "monitor", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "monitor", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "monitor", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestLeaseRenewOnlyWhileOwned(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, err := NewLockManager(c).Acquire(ctx, "monitor", time.Minute)
	require.NoError(t, err)
	key := c.keys.lock("monitor")
	token, err := mr.Get(key)
	require.NoError(t, err)

	mr.FastForward(40 * time.Second)
	l := &lease{rdb: c.Underlying(), key: key, token: token, ttl: time.Minute}
	held, err := l.renew(ctx)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, time.Minute, mr.TTL(key))

	require.NoError(t, mr.Set(key, "other-replica"))
	held, err = l.renew(ctx)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRateLimiter_ReportsRetry(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, 0, 0)
	ctx := context.Background()

	v, err := rl.take(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, v.admitted)

	v, err = rl.take(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, v.admitted)
	assert.Greater(t, v.retryIn, 50*time.Second)
	assert.LessOrEqual(t, v.retryIn, time.Minute)
}

func TestKeyPrefixSeparatesDeployments(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	connect := func(prefix string) *Client {
		c, err := New(ctx, ClientConfig{Addr: mr.Addr(), KeyPrefix: prefix})
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	mainnet, testnet := connect("mainnet:"), connect("testnet")

	_, err := NewLockManager(mainnet).Acquire(ctx, "monitor", time.Minute)
	require.NoError(t, err)
	_, err = NewLockManager(testnet).Acquire(ctx, "monitor", time.Minute)
	require.NoError(t, err, "locks in different namespaces do not collide")
	assert.True(t, mr.Exists("mainnet:lock:monitor"))
	assert.True(t, mr.Exists("testnet:lock:monitor"))
}

func TestRateLimiter_Allow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, 0, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client-a", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "client-a", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "client-b", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, 1, time.Hour)

	require.NoError(t, rl.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSignalBus_Stream(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c, 100)
	ctx := context.Background()

	msgs, err := bus.StreamRead(ctx, domain.StreamSnapshots, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, domain.StreamSnapshots, []byte(`{"n":1}`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamSnapshots, []byte(`{"n":2}`)))

	msgs, err = bus.StreamRead(ctx, domain.StreamSnapshots, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"n":2}`, string(msgs[1].Payload))
}

func TestSignalBus_PubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.ChannelQueueUpdates)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelQueueUpdates, []byte("hello")))

	select {
	case got := <-ch:
		assert.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestSignalBus_PatternSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "troveview:*")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelAlerts, []byte(`{"kind":"sharp_drop"}`)))

	select {
	case got := <-ch:
		assert.JSONEq(t, `{"kind":"sharp_drop"}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}
