package credits

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceKey(t *testing.T) {
	assert.Equal(t, "credits:balance:user-1", balanceKey("user-1"))
}

func TestRedisBalanceCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set; skipping test that requires a Redis server")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	c := NewRedisBalanceCache(client)

	require.NoError(t, c.Delete(ctx, "cache-test"))
	_, ok, err := c.Get(ctx, "cache-test")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "cache-test", 42))
	v, ok, err := c.Get(ctx, "cache-test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 42, v)

	ttl, err := client.TTL(ctx, balanceKey("cache-test")).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, refreshTTL)

	// a fill never replaces a written balance
	require.NoError(t, c.Fill(ctx, "cache-test", 7))
	v, _, err = c.Get(ctx, "cache-test")
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	require.NoError(t, c.Delete(ctx, "cache-test"))
	require.NoError(t, c.Fill(ctx, "cache-test", 7))
	v, ok, err = c.Get(ctx, "cache-test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 7, v)
	ttl, err = client.TTL(ctx, balanceKey("cache-test")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, refreshTTL)
	require.NoError(t, c.Delete(ctx, "cache-test"))
}
