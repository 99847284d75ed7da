package redisengine

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/seb7887/gofw/stillsuit/sqlengine"
)

var _ sqlengine.ResultCache = (*QueryCache)(nil)

// QueryCache keeps sqlengine query results in Redis. Each table owns a set
// listing its cached keys so a commit can drop them together.
type QueryCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewQueryCache creates a cache whose entries expire after ttl
func NewQueryCache(client redis.UniversalClient, ttl time.Duration, prefix string) *QueryCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix + "cache:"
	}
	return &QueryCache{client: client, ttl: ttl, prefix: prefix}
}

func (c *QueryCache) tableKey(table string) string {
	return c.prefix + "table:" + table
}

// Get implements sqlengine.ResultCache
func (c *QueryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (c *QueryCache) generationKey(table string) string {
	return c.prefix + "gen:" + table
}

// Generation implements sqlengine.ResultCache
func (c *QueryCache) Generation(ctx context.Context, table string) (uint64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(table)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Set implements sqlengine.ResultCache. The generation key is watched so an
// Invalidate racing with Set makes the write a no-op.
func (c *QueryCache) Set(ctx context.Context, table string, generation uint64, key string, value []byte) error {
	genKey := c.generationKey(table)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.prefix+key, value, c.ttl)
			pipe.SAdd(ctx, c.tableKey(table), c.prefix+key)
			if c.ttl > 0 {
				pipe.Expire(ctx, c.tableKey(table), c.ttl)
			}
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		// invalidated while writing
		return nil
	}
	return err
}

// Invalidate implements sqlengine.ResultCache
func (c *QueryCache) Invalidate(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if err := c.client.Incr(ctx, c.generationKey(table)).Err(); err != nil {
			return err
		}
		setKey := c.tableKey(table)
		keys, err := c.client.SMembers(ctx, setKey).Result()
		if err != nil {
			return err
		}
		if err := c.client.Del(ctx, append(keys, setKey)...).Err(); err != nil {
			return err
		}
	}
	return nil
}
