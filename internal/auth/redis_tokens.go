package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/ilham-s-saksena/race-condition/internal/redisx"
)

type RedisTokens struct {
	Client redis.Cmdable
}

func (r *RedisTokens) Save(ctx context.Context, digest string, userID int64, ttl time.Duration) error {
	return r.Client.Set(ctx, fmt.Sprintf(redisx.KeyAuthToken, digest), userID, ttl).Err()
}

func (r *RedisTokens) Lookup(ctx context.Context, digest string) (int64, error) {
	v, err := r.Client.Get(ctx, fmt.Sprintf(redisx.KeyAuthToken, digest)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrUnauthorized
	}
	if err != nil {
		return 0, errors.Wrap(err, "lookup token")
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ErrUnauthorized
	}
	return id, nil
}

func (r *RedisTokens) Delete(ctx context.Context, digest string) error {
	return r.Client.Del(ctx, fmt.Sprintf(redisx.KeyAuthToken, digest)).Err()
}
