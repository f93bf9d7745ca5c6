package redisx

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := New(addr)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestDedupSeenAfterMark(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	d := &Dedup{Client: rdb, Service: "test", TTL: time.Minute}
	id := uuid.NewString()

	seen, err := d.Seen(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, id))
	seen, err = d.Seen(ctx, id)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestOrderCache(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	c := &OrderCache{Client: rdb, TTL: time.Minute}
	id := time.Now().UnixNano()

	_, ok := c.Get(ctx, id)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, id, []byte(`{"id":1}`)))
	b, ok := c.Get(ctx, id)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":1}`, string(b))

	ttl, err := rdb.TTL(ctx, fmt.Sprintf(KeyOrder, id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
