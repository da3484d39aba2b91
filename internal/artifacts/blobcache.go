package artifacts

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// BlobCache is a shared tier between the local disk cache and the remote store
type BlobCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
}

// RedisBlobCache keeps artifact blobs in Redis so replicas share one download
type RedisBlobCache struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisBlobCache wraps an existing client. A zero ttl keeps blobs forever.
func NewRedisBlobCache(client *redis.Client, prefix string, ttl time.Duration) *RedisBlobCache {
	return &RedisBlobCache{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		timeout: 2 * time.Second,
	}
}

// Get returns the blob stored under key; a missing key is not an error
func (c *RedisBlobCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores data under key
func (c *RedisBlobCache) Set(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}
