package auth

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevokedKeyPrefix prefixes the Redis key kept for every revoked jti.
const RevokedKeyPrefix = "fog:revoked:"

// RedisRevocationStore is an implementation of the RevocationStore
// interface using Redis. Each revocation is a key that expires with the
// token.
type RedisRevocationStore struct {
	db *redis.Client
}

// NewRedisRevocationStore creates a new RedisRevocationStore instance.
func NewRedisRevocationStore(db *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{db: db}
}

func (r *RedisRevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return r.db.Set(ctx, RevokedKeyPrefix+jti, time.Now().Unix(), ttl).Err()
}

func (r *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.db.Exists(ctx, RevokedKeyPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRevocationStore) Revoked(ctx context.Context) ([]string, error) {
	var list []string
	iter := r.db.Scan(ctx, 0, RevokedKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		list = append(list, strings.TrimPrefix(iter.Val(), RevokedKeyPrefix))
	}
	return list, iter.Err()
}
