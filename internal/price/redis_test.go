package price

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a disposable server, e.g. INDEXER_TEST_REDIS_ADDR=localhost:6379.
// Keys are written to DB 15 and removed afterwards.
func newTestRedisSource(t *testing.T) (*RedisSource, *redis.Client) {
	t.Helper()
	addr := os.Getenv("INDEXER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("INDEXER_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	src := NewRedisSourceFromClient(rdb)
	t.Cleanup(func() { _ = src.Close() })
	return src, rdb
}

func TestRedisSource(t *testing.T) {
	src, rdb := newTestRedisSource(t)
	ctx := context.Background()

	token := "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	broken := "0x00000000000000000000000000000000000bad01"
	missing := "0x00000000000000000000000000000000000bad02"
	t.Cleanup(func() {
		rdb.Del(context.Background(), priceKey(token), priceKey(broken), priceKey(missing))
	})

	ts := time.Unix(1_700_000_000, 0)
	require.NoError(t, src.SetPrice(ctx, token, decimal.RequireFromString("3120.55"), ts))

	t.Run("hit", func(t *testing.T) {
		p, ok, err := src.PriceUSD(ctx, token)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, p.Equal(decimal.RequireFromString("3120.55")), p.String())

		stamp, err := rdb.HGet(ctx, priceKey(token), "ts").Result()
		require.NoError(t, err)
		assert.Equal(t, "1700000000000000000", stamp)
	})

	t.Run("missing key is a miss", func(t *testing.T) {
		_, ok, err := src.PriceUSD(ctx, missing)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unparsable price is an error", func(t *testing.T) {
		require.NoError(t, rdb.HSet(ctx, priceKey(broken), "price", "n/a").Err())
		_, ok, err := src.PriceUSD(ctx, broken)
		require.Error(t, err)
		assert.False(t, ok)
		assert.Contains(t, err.Error(), "redis: parse price")
	})

	t.Run("chain falls through a redis miss", func(t *testing.T) {
		static, err := NewStaticSource(map[string]string{missing: "1"})
		require.NoError(t, err)
		p, ok, err := Chain{src, static}.PriceUSD(ctx, missing)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, p.Equal(decimal.NewFromInt(1)))
	})
}
