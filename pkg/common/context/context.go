// Package context holds small predicates over context.Context shared by the
// invocation adapters.
package context

import (
	"context"
	"errors"
	"fmt"
	"time"

	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
)

// WithTimeoutOrCancel creates a context that is canceled either when the parent
// is canceled or when the timeout duration elapses, whichever comes first.
// A non-positive timeout only inherits the parent's cancellation.
func WithTimeoutOrCancel(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// IsCanceled returns true if the context has been canceled
func IsCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// IsTimedOut returns true if the context was canceled due to a timeout
func IsTimedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// Err converts the context error into a library error. Deadline expiry maps to
// ErrTimeout so callers can test it with errors.Is; plain cancellation is returned as is.
func Err(ctx context.Context) error {
	if IsTimedOut(ctx) {
		return fmt.Errorf("%w: %w", gferrors.ErrTimeout, ctx.Err())
	}
	return ctx.Err()
}
