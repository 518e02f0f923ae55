package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key is not present in the cache.
var ErrMiss = errors.New("cache: key not found")

// ClientSource resolves the current Redis client. The holder swaps clients
// when its health loop reconnects, so the cache looks the client up per call
// instead of pinning the one it was built with.
type ClientSource interface {
	Get() redis.UniversalClient
}

type Cache struct {
	Source    ClientSource
	Namespace string
}

// Get value from Redis
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	cmd := c.Source.Get().Get(ctx, c.Namespace+":"+key)
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", err
	}
	return cmd.Val(), nil
}

// Store data to Redis. A ttl of zero keeps the key forever, which is how the
// blob store uses this package as its filename index.
func (c *Cache) Store(ctx context.Context, key string, ttl int, value interface{}) error {
	dur, err := time.ParseDuration(strconv.Itoa(ttl) + "s")
	if err != nil {
		return err
	}

	cmd := c.Source.Get().Set(ctx, c.Namespace+":"+key, value, dur)
	return cmd.Err()
}

// Delete key from Redis
func (c *Cache) Remove(ctx context.Context, key string) error {
	cmd := c.Source.Get().Del(ctx, c.Namespace+":"+key)
	return cmd.Err()
}

func NewCache(namespace string, source ClientSource) *Cache {
	return &Cache{
		Namespace: namespace,
		Source:    source,
	}
}
