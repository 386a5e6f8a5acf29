package clients

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Cache is a bounded read cache for client configuration. Entries are
// explicitly invalidated on administrative update; a short TTL bounds
// staleness if an invalidation is lost.
type Cache interface {
	Get(ctx context.Context, clientID string) (*Client, error)
	Put(ctx context.Context, clientData *Client) error
	Invalidate(ctx context.Context, clientID string) error
}

const cacheKeyPrefix = "client:"

// RedisCache implements Cache on a redis instance shared by all workers, so
// an invalidation issued by one replica is observed by every other.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, clientID string) (*Client, error) {
	data, err := c.rdb.Get(ctx, cacheKeyPrefix+clientID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.New("cache miss")
		}
		return nil, errors.Wrap(err, "[RedisCache.Get] rdb.Get")
	}

	var client Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, errors.Wrap(err, "[RedisCache.Get] json.Unmarshal")
	}
	return &client, nil
}

func (c *RedisCache) Put(ctx context.Context, clientData *Client) error {
	data, err := json.Marshal(clientData)
	if err != nil {
		return errors.Wrap(err, "[RedisCache.Put] json.Marshal")
	}
	if err := c.rdb.Set(ctx, cacheKeyPrefix+clientData.ID, data, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "[RedisCache.Put] rdb.Set")
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, clientID string) error {
	if err := c.rdb.Del(ctx, cacheKeyPrefix+clientID).Err(); err != nil {
		return errors.Wrap(err, "[RedisCache.Invalidate] rdb.Del")
	}
	return nil
}
