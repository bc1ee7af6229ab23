package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the sorted set holding revoked jtis scored by expiry.
const DefaultRedisKey = "auth:revoked_jti"

// RedisStore keeps the revocation set in a Redis sorted set so every API
// replica sees the same denylist.
type RedisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

func (s *RedisStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	err := s.rdb.ZAddArgs(ctx, s.key, redis.ZAddArgs{
		GT:      true,
		Members: []redis.Z{{Score: float64(expiresAt.Unix()), Member: jti}},
	}).Err()
	if err != nil {
		return fmt.Errorf("revoke %s: %w", jti, err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := s.rdb.ZScore(ctx, s.key, jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revocation %s: %w", jti, err)
	}
	return true, nil
}

func (s *RedisStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := s.rdb.ZRemRangeByScore(ctx, s.key, "-inf", strconv.FormatInt(now.Unix(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("purge revocations: %w", err)
	}
	return int(n), nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
