package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	t.Run("SetGetDelete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
		assert.True(t, mr.Exists("harrier:k"))

		val, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", string(val))

		require.NoError(t, c.Delete(ctx, "k"))
		val, err = c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Second))
		mr.FastForward(2 * time.Second)

		val, err := c.Get(ctx, "short")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("Results", func(t *testing.T) {
		result := &domain.DetectionResult{TransactionID: "tx-9", FraudReason: domain.ReasonNoRule, MatchedRuleIDs: []string{}}
		require.NoError(t, c.SetResult(ctx, result, time.Minute))

		got, err := c.GetResult(ctx, "tx-9")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.Source(""), got.FraudSource)
		assert.Equal(t, domain.ReasonNoRule, got.FraudReason)
	})

	t.Run("CounterWindow", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			n, err := c.IncrementCounter(ctx, "payer:x", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, i, n)
		}
		assert.Greater(t, mr.TTL("harrier:counter:payer:x"), time.Duration(0))

		mr.FastForward(2 * time.Minute)
		n, err := c.IncrementCounter(ctx, "payer:x", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	remote, mr := newTestRedis(t)
	c := newTwoPhase(NewLRUCache(10), remote, time.Minute)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Hour))
	assert.True(t, mr.Exists("harrier:k"))

	// Remove from L1 only; the read must fall through to Redis and refill L1.
	require.NoError(t, c.local.Delete(ctx, "k"))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(val))

	l1, _ := c.local.Get(ctx, "k")
	assert.Equal(t, "v", string(l1))

	n, err := c.IncrementCounter(ctx, "ctr", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, c.Ping(ctx))
}
