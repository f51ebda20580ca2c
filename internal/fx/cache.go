package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const rateVersionKey = "fx:rate:version"

// Cache keeps resolved rates in Redis. Upserts bump a version so stale keys
// are never read again and simply expire.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, rateVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) key(ctx context.Context, from, to string, typ RateType, date time.Time) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("fx:rate:%s:%s:%s:%s:%d", from, to, typ, date.Format("2006-01-02"), ver), nil
}

// Get returns a cached rate.
func (c *Cache) Get(ctx context.Context, from, to string, typ RateType, date time.Time) (decimal.Decimal, bool, error) {
	if !c.enabled() {
		return decimal.Decimal{}, false, nil
	}
	key, err := c.key(ctx, from, to, typ, date)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	return rate, true, nil
}

// Put stores a resolved rate.
func (c *Cache) Put(ctx context.Context, from, to string, typ RateType, date time.Time, rate decimal.Decimal) error {
	if !c.enabled() {
		return nil
	}
	key, err := c.key(ctx, from, to, typ, date)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, rate.String(), c.ttl).Err()
}

// Bump invalidates every cached rate.
func (c *Cache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	if err := c.client.SetNX(ctx, rateVersionKey, 1, 0).Err(); err != nil {
		return err
	}
	return c.client.Incr(ctx, rateVersionKey).Err()
}
