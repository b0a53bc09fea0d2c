package credits

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	balanceKeyPrefix = "credits:balance:"
	balanceTTL       = 5 * time.Minute
	refreshTTL       = 30 * time.Second
	cacheTimeout     = time.Second
)

// BalanceCache stores balances in front of the ledger. Implementations must
// be safe for concurrent use; errors are reported but never fatal.
//
// Fill stores a balance read from the ledger only when no value is cached,
// so a slow reader never replaces a balance written by Set after a ledger
// write.
type BalanceCache interface {
	Get(ctx context.Context, userID string) (int64, bool, error)
	Fill(ctx context.Context, userID string, balance int64) error
	Set(ctx context.Context, userID string, balance int64) error
	Delete(ctx context.Context, userID string) error
}

// RedisBalanceCache keeps balances under credits:balance:<user id>.
type RedisBalanceCache struct {
	client     redis.Cmdable
	ttl        time.Duration
	refreshTTL time.Duration
}

func NewRedisBalanceCache(client redis.Cmdable) *RedisBalanceCache {
	return &RedisBalanceCache{client: client, ttl: balanceTTL, refreshTTL: refreshTTL}
}

func balanceKey(userID string) string {
	return balanceKeyPrefix + userID
}

func (c *RedisBalanceCache) Get(ctx context.Context, userID string) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	val, err := c.client.Get(ctx, balanceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func (c *RedisBalanceCache) Fill(ctx context.Context, userID string, balance int64) error {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	return c.client.SetNX(ctx, balanceKey(userID), balance, c.ttl).Err()
}

// Set overwrites the cached balance. Concurrent writers may land out of
// order, so written values expire sooner than filled ones.
func (c *RedisBalanceCache) Set(ctx context.Context, userID string, balance int64) error {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	return c.client.Set(ctx, balanceKey(userID), balance, c.refreshTTL).Err()
}

func (c *RedisBalanceCache) Delete(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	return c.client.Del(ctx, balanceKey(userID)).Err()
}
