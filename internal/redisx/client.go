package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Dedup remembers processed event ids for one consumer service.
type Dedup struct {
	Client  redis.Cmdable
	Service string
	TTL     time.Duration
}

func (d *Dedup) key(eventID string) string {
	return fmt.Sprintf(KeyDedup, d.Service, eventID)
}

func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	return Exists(ctx, d.Client, d.key(eventID))
}

// Mark records eventID as processed. Call it only after the side effects succeeded.
func (d *Dedup) Mark(ctx context.Context, eventID string) error {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return d.Client.Set(ctx, d.key(eventID), "1", ttl).Err()
}

// OrderCache stores read-only order snapshots. Orders are never mutated after checkout, so no invalidation is needed.
type OrderCache struct {
	Client redis.Cmdable
	TTL    time.Duration
}

// Get returns the cached json for orderID; ok is false on a miss or any redis error.
func (c *OrderCache) Get(ctx context.Context, orderID int64) ([]byte, bool) {
	b, err := c.Client.Get(ctx, fmt.Sprintf(KeyOrder, orderID)).Bytes()
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}

func (c *OrderCache) Set(ctx context.Context, orderID int64, body []byte) error {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = TTLOrderCache
	}
	return c.Client.Set(ctx, fmt.Sprintf(KeyOrder, orderID), body, ttl).Err()
}
