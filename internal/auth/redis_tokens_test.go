package auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilham-s-saksena/race-condition/internal/redisx"
)

func TestRedisTokens(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redisx.New(addr)
	defer rdb.Close()

	ctx := context.Background()
	store := &RedisTokens{Client: rdb}
	digest := Digest(NewToken())

	_, err := store.Lookup(ctx, digest)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, store.Save(ctx, digest, 17, time.Minute))
	id, err := store.Lookup(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)

	require.NoError(t, store.Delete(ctx, digest))
	_, err = store.Lookup(ctx, digest)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
