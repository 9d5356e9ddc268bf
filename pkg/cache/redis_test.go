package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
)

type searchResult struct {
	Hits  []string `json:"hits"`
	Total int      `json:"total"`
}

// newTestRedis returns a client for a local Redis, skipping the test when
// none is reachable.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNewRedisStoreValidation(t *testing.T) {
	_, err := NewRedisStore[string](RedisConfig{Prefix: "x"}, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, gferrors.ErrInvalidConfiguration))

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()

	_, err = NewRedisStore[string](RedisConfig{Redis: rdb}, nil)
	require.True(t, gferrors.IsValidationError(err))

	_, err = NewRedisStore[string](RedisConfig{Redis: rdb, Prefix: "x", TTL: -time.Second}, nil)
	require.True(t, gferrors.IsValidationError(err))

	store, err := NewRedisStore[string](RedisConfig{Redis: rdb, Prefix: "x"}, nil)
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, store.config.Timeout)
	require.Equal(t, int64(100), store.config.ScanCount)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	store, err := NewRedisStore[searchResult](RedisConfig{
		Redis:  rdb,
		Prefix: "execflow:test:" + t.Name(),
		TTL:    time.Minute,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Clear(context.Background()) })

	_, ok, err := store.Get(ctx, "q1")
	require.NoError(t, err)
	require.False(t, ok)

	want := searchResult{Hits: []string{"a", "b"}, Total: 2}
	require.NoError(t, store.Set(ctx, "q1", want))

	got, ok, err := store.Get(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)

	ttl, err := rdb.TTL(ctx, store.key("q1")).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Delete(ctx, "q1"))
	_, ok, err = store.Get(ctx, "q1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreClearOnlyOwnPrefix(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	mine, err := NewRedisStore[int](RedisConfig{Redis: rdb, Prefix: "execflow:test:mine", ScanCount: 2}, nil)
	require.NoError(t, err)
	other, err := NewRedisStore[int](RedisConfig{Redis: rdb, Prefix: "execflow:test:other"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Clear(context.Background()) })

	for i, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, mine.Set(ctx, k, i))
	}
	require.NoError(t, other.Set(ctx, "a", 99))

	require.NoError(t, mine.Clear(ctx))

	_, ok, err := mine.Get(ctx, "c")
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := other.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 99, v)
}

func TestRedisStoreDecodeError(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	store, err := NewRedisStore[searchResult](RedisConfig{Redis: rdb, Prefix: "execflow:test:decode"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Clear(context.Background()) })

	require.NoError(t, rdb.Set(ctx, store.key("bad"), "not json", 0).Err())

	_, ok, err := store.Get(ctx, "bad")
	require.False(t, ok)
	var opErr *gferrors.OperationError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, "Get", opErr.Operation)
}
