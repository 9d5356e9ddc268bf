package executor

import (
	"context"
	"time"

	gfcontext "github.com/vnykmshr/execflow/pkg/common/context"
	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
)

// Outcome is one value or error produced by a deferred or streaming source.
type Outcome[D any] struct {
	Value D
	Err   error
}

// Value adapts an infallible synchronous function.
func Value[P, D any](fn func(params P) D) Func[P, D] {
	return func(_ context.Context, params P) (D, error) {
		return fn(params), nil
	}
}

// Fallible adapts a synchronous function that may fail.
func Fallible[P, D any](fn func(params P) (D, error)) Func[P, D] {
	return func(_ context.Context, params P) (D, error) {
		return fn(params)
	}
}

// Future adapts a function that returns a channel delivering a single
// Outcome later. A channel closed without a value yields ErrNoResult.
func Future[P, D any](fn func(ctx context.Context, params P) <-chan Outcome[D]) Func[P, D] {
	return func(ctx context.Context, params P) (D, error) {
		return first(ctx, fn(ctx, params))
	}
}

// Stream adapts a function that may emit several Outcomes. The first one is
// the result; the producer's context is then cancelled and later emissions
// are ignored. Producers must select on ctx.Done when sending.
func Stream[P, D any](fn func(ctx context.Context, params P) <-chan Outcome[D]) Func[P, D] {
	return func(ctx context.Context, params P) (D, error) {
		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		return first(streamCtx, fn(streamCtx, params))
	}
}

// WithTimeout bounds each invocation of fn. An invocation that overruns
// fails with an error matching ErrTimeout.
func WithTimeout[P, D any](fn Func[P, D], timeout time.Duration) Func[P, D] {
	return func(ctx context.Context, params P) (D, error) {
		ctx, cancel := gfcontext.WithTimeoutOrCancel(ctx, timeout)
		defer cancel()

		data, err := fn(ctx, params)
		if err != nil && gfcontext.IsTimedOut(ctx) {
			var zero D
			return zero, gfcontext.Err(ctx)
		}
		return data, err
	}
}

func first[D any](ctx context.Context, ch <-chan Outcome[D]) (D, error) {
	var zero D
	if ch == nil {
		return zero, gferrors.ErrNoResult
	}
	select {
	case out, ok := <-ch:
		if !ok {
			return zero, gferrors.ErrNoResult
		}
		if out.Err != nil {
			return zero, out.Err
		}
		return out.Value, nil
	case <-ctx.Done():
		return zero, gfcontext.Err(ctx)
	}
}
