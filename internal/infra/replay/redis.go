package replay

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "originalcapture:nonce:"

// RedisNonceStore claims nonces with SET NX so replicas sharing a redis
// reject each other's replays.
type RedisNonceStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisNonceStore(client redis.Cmdable, prefix string) (*RedisNonceStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisNonceStore{client: client, prefix: prefix}, nil
}

func (s *RedisNonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("nonce key is required")
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return s.client.SetNX(ctx, s.prefix+key, 1, ttl).Result()
}

func (s *RedisNonceStore) Release(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("nonce key is required")
	}
	return s.client.Del(ctx, s.prefix+key).Err()
}
