package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
	"github.com/vnykmshr/execflow/pkg/common/validation"
)

// Codec converts results to and from their stored form.
type Codec[D any] interface {
	Marshal(value D) ([]byte, error)
	Unmarshal(data []byte) (D, error)
}

// JSONCodec encodes results with encoding/json.
type JSONCodec[D any] struct{}

// Marshal implements Codec.
func (JSONCodec[D]) Marshal(value D) ([]byte, error) {
	return json.Marshal(value)
}

// Unmarshal implements Codec.
func (JSONCodec[D]) Unmarshal(data []byte) (D, error) {
	var value D
	err := json.Unmarshal(data, &value)
	return value, err
}

// RedisConfig holds configuration for a RedisStore.
type RedisConfig struct {
	// Redis client shared with the rest of the application
	Redis redis.UniversalClient

	// Prefix namespaces every key written by the store
	Prefix string

	// TTL is how long entries live. Zero means no expiry.
	TTL time.Duration

	// Timeout bounds each Redis round trip (defaults to 500ms)
	Timeout time.Duration

	// ScanCount is the COUNT hint used by Clear (defaults to 100)
	ScanCount int64
}

// RedisStore is a Store backed by Redis, letting several processes share
// results for identical params.
type RedisStore[D any] struct {
	config RedisConfig
	codec  Codec[D]
}

// NewRedisStore creates a RedisStore. A nil codec selects JSONCodec.
func NewRedisStore[D any](config RedisConfig, codec Codec[D]) (*RedisStore[D], error) {
	if err := validation.ValidateNotNil("cache", "redis", config.Redis); err != nil {
		return nil, err
	}
	if config.Prefix == "" {
		return nil, gferrors.NewValidationError("cache", "prefix", config.Prefix, "cannot be empty").
			WithHint("use a prefix unique to the scheduler, e.g. execflow:search")
	}
	if err := validation.ValidateDuration("cache", "ttl", config.TTL); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = 500 * time.Millisecond
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 100
	}
	if codec == nil {
		codec = JSONCodec[D]{}
	}
	return &RedisStore[D]{config: config, codec: codec}, nil
}

func (rs *RedisStore[D]) key(k string) string {
	return rs.config.Prefix + ":" + k
}

// Get implements Store.
func (rs *RedisStore[D]) Get(ctx context.Context, key string) (D, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, rs.config.Timeout)
	defer cancel()

	var zero D
	raw, err := rs.config.Redis.Get(ctx, rs.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, gferrors.NewOperationError("cache", "Get", err).WithContext(key)
	}

	value, err := rs.codec.Unmarshal(raw)
	if err != nil {
		return zero, false, gferrors.NewOperationError("cache", "Get", err).WithContext("decode " + key)
	}
	return value, true, nil
}

// Set implements Store.
func (rs *RedisStore[D]) Set(ctx context.Context, key string, value D) error {
	raw, err := rs.codec.Marshal(value)
	if err != nil {
		return gferrors.NewOperationError("cache", "Set", err).WithContext("encode " + key)
	}

	ctx, cancel := context.WithTimeout(ctx, rs.config.Timeout)
	defer cancel()

	if err := rs.config.Redis.Set(ctx, rs.key(key), raw, rs.config.TTL).Err(); err != nil {
		return gferrors.NewOperationError("cache", "Set", err).WithContext(key)
	}
	return nil
}

// Delete implements Store.
func (rs *RedisStore[D]) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, rs.config.Timeout)
	defer cancel()

	if err := rs.config.Redis.Del(ctx, rs.key(key)).Err(); err != nil {
		return gferrors.NewOperationError("cache", "Delete", err).WithContext(key)
	}
	return nil
}

// Clear implements Store by scanning the prefix and deleting in batches.
func (rs *RedisStore[D]) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		scanCtx, cancel := context.WithTimeout(ctx, rs.config.Timeout)
		keys, next, err := rs.config.Redis.Scan(scanCtx, cursor, rs.config.Prefix+":*", rs.config.ScanCount).Result()
		if err != nil {
			cancel()
			return gferrors.NewOperationError("cache", "Clear", err).WithContext("scan")
		}

		if len(keys) > 0 {
			pipe := rs.config.Redis.Pipeline()
			pipe.Unlink(scanCtx, keys...)
			if _, err := pipe.Exec(scanCtx); err != nil {
				cancel()
				return gferrors.NewOperationError("cache", "Clear", err).WithContext("unlink")
			}
		}
		cancel()

		if next == 0 {
			return nil
		}
		cursor = next
	}
}
