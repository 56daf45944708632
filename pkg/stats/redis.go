package stats

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// InstancesKey is the Redis set listing every publishing proxy instance.
const InstancesKey = "fog:instances"

// DefaultPublishInterval is how often a Publisher writes a snapshot.
const DefaultPublishInterval = 10 * time.Second

// Store defines the storage operations a Publisher needs.
type Store interface {
	PutSnapshot(ctx context.Context, instance string, snap Snapshot, ttl time.Duration) error
	RemoveInstance(ctx context.Context, instance string) error
}

// RedisStore is an implementation of the Store interface using Redis.
type RedisStore struct {
	db *redis.Client
}

// NewRedisStore creates a new RedisStore instance.
func NewRedisStore(db *redis.Client) *RedisStore {
	return &RedisStore{db: db}
}

func snapshotKey(instance string) string {
	return fmt.Sprintf("fog:stats:%s", instance)
}

// PutSnapshot stores snap in the instance's hash and registers the instance,
// both expiring after ttl unless refreshed.
func (r *RedisStore) PutSnapshot(ctx context.Context, instance string, snap Snapshot, ttl time.Duration) error {
	key := snapshotKey(instance)
	fields := snap.Fields()
	fields["updatedAt"] = time.Now().Unix()

	pipe := r.db.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, InstancesKey, instance)
	pipe.Expire(ctx, InstancesKey, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveInstance deletes the instance's hash and its set membership.
func (r *RedisStore) RemoveInstance(ctx context.Context, instance string) error {
	pipe := r.db.TxPipeline()
	pipe.Del(ctx, snapshotKey(instance))
	pipe.SRem(ctx, InstancesKey, instance)
	_, err := pipe.Exec(ctx)
	return err
}

// GetSnapshot reads back a stored snapshot. It returns redis.Nil when the
// instance has none.
func (r *RedisStore) GetSnapshot(ctx context.Context, instance string) (*Snapshot, error) {
	data, err := r.db.HGetAll(ctx, snapshotKey(instance)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, redis.Nil
	}
	return &Snapshot{
		Uptime:         data["uptime"],
		Accepted:       parseInt64(data["accepted"]),
		Active:         parseInt64(data["active"]),
		Probes:         parseInt64(data["probes"]),
		Tunnels:        parseInt64(data["tunnels"]),
		Forwards:       parseInt64(data["forwards"]),
		Malformed:      parseInt64(data["malformed"]),
		ConnectFailed:  parseInt64(data["connectFailed"]),
		ClientGone:     parseInt64(data["clientGone"]),
		ReadErrors:     parseInt64(data["readErrors"]),
		IdleTimeouts:   parseInt64(data["idleTimeouts"]),
		Panics:         parseInt64(data["panics"]),
		ClientToRemote: parseInt64(data["bytesClientToRemote"]),
		RemoteToClient: parseInt64(data["bytesRemoteToClient"]),
	}, nil
}

// Instances lists the registered instance names.
func (r *RedisStore) Instances(ctx context.Context) ([]string, error) {
	return r.db.SMembers(ctx, InstancesKey).Result()
}

func parseInt64(value string) int64 {
	v, _ := strconv.ParseInt(value, 10, 64)
	return v
}

// Publisher periodically writes a Counters snapshot to a Store.
type Publisher struct {
	Instance string
	Counters *Counters
	Store    Store
	Interval time.Duration
	Logger   *log.Logger
}

func (p *Publisher) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return DefaultPublishInterval
}

// PublishOnce writes the current snapshot with a TTL of three intervals.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return p.Store.PutSnapshot(ctx, p.Instance, p.Counters.Snapshot(), 3*p.interval())
}

// Run publishes until ctx is cancelled, then deregisters the instance.
// Publish failures are logged and retried on the next tick.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()

	if err := p.PublishOnce(ctx); err != nil {
		p.logf("[Stats] Failed to publish snapshot: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			if err := p.Deregister(); err != nil {
				p.logf("[Stats] Failed to deregister %s: %v", p.Instance, err)
			}
			return
		case <-ticker.C:
			if err := p.PublishOnce(ctx); err != nil {
				p.logf("[Stats] Failed to publish snapshot: %v", err)
			}
		}
	}
}

// Deregister removes this instance from the store.
func (p *Publisher) Deregister() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return p.Store.RemoveInstance(ctx, p.Instance)
}

func (p *Publisher) logf(format string, args ...interface{}) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
