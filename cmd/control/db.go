package main

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/strseb/fogproxy/pkg/stats"
)

// ErrUnknownInstance is returned for instances without a stored snapshot.
var ErrUnknownInstance = errors.New("unknown instance")

// Database defines an interface for database operations.
type Database interface {
	GetAllInstances() ([]string, error)
	GetSnapshot(instance string) (*stats.Snapshot, error)
	RemoveInstance(instance string) error
}

// RedisDatabase is an implementation of the Database interface using Redis.
type RedisDatabase struct {
	store *stats.RedisStore
}

// NewRedisDatabase creates a new RedisDatabase instance.
func NewRedisDatabase(db *redis.Client) *RedisDatabase {
	return &RedisDatabase{store: stats.NewRedisStore(db)}
}

// GetAllInstances lists the proxies that published recently.
func (r *RedisDatabase) GetAllInstances() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	return r.store.Instances(ctx)
}

// GetSnapshot retrieves the latest snapshot published by instance.
func (r *RedisDatabase) GetSnapshot(instance string) (*stats.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	snap, err := r.store.GetSnapshot(ctx, instance)
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnknownInstance
	}
	return snap, err
}

// RemoveInstance drops a stale instance from the registry.
func (r *RedisDatabase) RemoveInstance(instance string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	return r.store.RemoveInstance(ctx, instance)
}
