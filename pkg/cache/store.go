package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnhashable is returned by Hash for values that cannot be canonicalised.
var ErrUnhashable = errors.New("cache: value is not hashable")

// Store holds results by cache key.
type Store[D any] interface {
	// Get returns the value stored under key. ok is false on a miss,
	// including when the entry has expired.
	Get(ctx context.Context, key string) (value D, ok bool, err error)

	// Set stores value under key, replacing any previous entry.
	Set(ctx context.Context, key string, value D) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry owned by the store.
	Clear(ctx context.Context) error
}

// Clock abstracts time for expiry checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
