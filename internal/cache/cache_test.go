package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct{ cl redis.UniversalClient }

func (s staticSource) Get() redis.UniversalClient { return s.cl }

func testCache(t *testing.T) *Cache {
	t.Helper()

	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cl.Close() })

	return NewCache("triphouse:blobs", staticSource{cl})
}

func TestStoreAndGet(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "a--orig.jpg", 0, "obj-1"))

	v, err := c.Get(ctx, "a--orig.jpg")
	require.NoError(t, err)
	assert.Equal(t, "obj-1", v)
}

func TestGetMiss(t *testing.T) {
	c := testCache(t)

	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRemove(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "a--orig.jpg", 0, "obj-1"))
	require.NoError(t, c.Remove(ctx, "a--orig.jpg"))

	_, err := c.Get(ctx, "a--orig.jpg")
	assert.ErrorIs(t, err, ErrMiss)
}
