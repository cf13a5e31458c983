package identity

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisSnapshot reads persisted session snapshots from the platform's Redis
// session store. Keys are tried in the order given (client, designer, admin
// in the standard wiring); the first key holding a usable snapshot wins.
type RedisSnapshot struct {
	client *redis.Client
	keys   []string
}

// NewRedisSnapshot creates a snapshot provider over the given session keys.
func NewRedisSnapshot(client *redis.Client, keys ...string) *RedisSnapshot {
	return &RedisSnapshot{client: client, keys: keys}
}

// NewRedisSnapshotFromAddr dials a Redis instance and wires the provider.
func NewRedisSnapshotFromAddr(addr, password string, db int, keys ...string) *RedisSnapshot {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisSnapshot(client, keys...)
}

// Resolve implements Provider.
func (r *RedisSnapshot) Resolve(ctx context.Context) (*Identity, error) {
	for _, key := range r.keys {
		raw, err := r.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			// Store unreachable; resolution falls through to later providers.
			return nil, err
		}
		var id Identity
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			continue
		}
		if id.Usable() {
			return &id, nil
		}
	}
	return nil, nil
}
