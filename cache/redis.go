package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "respcache:"

// RedisStore keeps entries in Redis, so that several processes can
// share one cache. Entries are stored with a server-side TTL of
// lifespan plus retention; within that window expired entries stay
// available for stale fallback, after it Redis drops them on its own
// and RemoveExpired has nothing to do.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisStore creates a store on top of an existing Redis client.
// Pass a negative retention to use DefaultRetention.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if retention < 0 {
		retention = DefaultRetention
	}
	return &RedisStore{rdb: client, retention: retention}
}

func (s *RedisStore) Lookup(ctx context.Context, key string) (*Entry, bool) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		storeErrors.WithLabelValues("redis", "lookup").Inc()
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		storeErrors.WithLabelValues("redis", "lookup").Inc()
		return nil, false
	}
	return &entry, true
}

func (s *RedisStore) Insert(ctx context.Context, key string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		storeErrors.WithLabelValues("redis", "insert").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	ttl := entry.Lifespan + s.retention
	if err := s.rdb.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		storeErrors.WithLabelValues("redis", "insert").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		storeErrors.WithLabelValues("redis", "remove").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// RemoveExpired is a no-op: Redis evicts entries itself once their TTL
// runs out.
func (s *RedisStore) RemoveExpired(context.Context) error {
	return nil
}

var _ Store = (*RedisStore)(nil)
