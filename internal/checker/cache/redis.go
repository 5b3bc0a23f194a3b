package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultRedisPrefix namespaces cache keys in Redis.
const DefaultRedisPrefix = "prosecheck:cache:"

// RedisTier stores msgpack-encoded entries in Redis with native expiry.
type RedisTier struct {
	client *redis.Client
	prefix string
}

// NewRedisTier creates a Redis tier. An empty prefix uses DefaultRedisPrefix.
func NewRedisTier(client *redis.Client, prefix string) *RedisTier {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisTier{client: client, prefix: prefix}
}

// Name implements Tier.
func (t *RedisTier) Name() string { return "redis" }

// Get implements Tier.
func (t *RedisTier) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := t.client.Get(ctx, t.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry Entry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return &entry, true, nil
}

// Set implements Tier. A non-positive ttl stores nothing: Redis would keep
// the key without expiry.
func (t *RedisTier) Set(ctx context.Context, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", entry.Key, err)
	}
	return t.client.Set(ctx, t.prefix+entry.Key, data, ttl).Err()
}

// Delete implements Tier.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	return t.client.Del(ctx, t.prefix+key).Err()
}

// Clear implements Tier. Only keys under the tier prefix are removed.
func (t *RedisTier) Clear(ctx context.Context) error {
	keys, err := t.keys(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += 500 {
		end := min(start+500, len(keys))
		if err := t.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Len implements Tier.
func (t *RedisTier) Len(ctx context.Context) (int, error) {
	keys, err := t.keys(ctx)
	return len(keys), err
}

// Ping checks connectivity.
func (t *RedisTier) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return errors.Join(errors.New("redis unreachable"), err)
	}
	return nil
}

func (t *RedisTier) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := t.client.Scan(ctx, 0, t.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
