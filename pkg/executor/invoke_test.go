package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
)

func TestValueAndFallible(t *testing.T) {
	ctx := context.Background()

	data, err := Value(double)(ctx, 21)
	require.NoError(t, err)
	require.Equal(t, 42, data)

	boom := errors.New("boom")
	fallible := Fallible(func(p int) (int, error) {
		if p < 0 {
			return 0, boom
		}
		return p, nil
	})

	data, err = fallible(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 3, data)

	_, err = fallible(ctx, -1)
	require.ErrorIs(t, err, boom)
}

func TestFuture(t *testing.T) {
	ctx := context.Background()

	deferred := func(_ context.Context, p int) <-chan Outcome[int] {
		ch := make(chan Outcome[int], 1)
		go func() {
			time.Sleep(time.Millisecond)
			ch <- Outcome[int]{Value: p * 3}
		}()
		return ch
	}
	data, err := Future(deferred)(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 15, data)

	boom := errors.New("rejected")
	failing := Future(func(context.Context, int) <-chan Outcome[int] {
		ch := make(chan Outcome[int], 1)
		ch <- Outcome[int]{Err: boom}
		return ch
	})
	_, err = failing(ctx, 1)
	require.ErrorIs(t, err, boom)

	empty := Future(func(context.Context, int) <-chan Outcome[int] {
		ch := make(chan Outcome[int])
		close(ch)
		return ch
	})
	_, err = empty(ctx, 1)
	require.ErrorIs(t, err, gferrors.ErrNoResult)

	missing := Future(func(context.Context, int) <-chan Outcome[int] { return nil })
	_, err = missing(ctx, 1)
	require.ErrorIs(t, err, gferrors.ErrNoResult)
}

func TestFutureHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	never := Future(func(context.Context, int) <-chan Outcome[int] {
		return make(chan Outcome[int])
	})
	_, err := never(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStreamTakesFirstValue(t *testing.T) {
	stopped := make(chan struct{})
	producer := func(ctx context.Context, p int) <-chan Outcome[int] {
		ch := make(chan Outcome[int])
		go func() {
			defer close(stopped)
			for i := 0; ; i++ {
				select {
				case ch <- Outcome[int]{Value: p + i}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch
	}

	data, err := Stream(producer)(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 10, data)

	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("producer was not cancelled after the first value")
	}
}

func TestWithTimeout(t *testing.T) {
	slow := func(ctx context.Context, p int) (int, error) {
		select {
		case <-time.After(time.Second):
			return p, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	_, err := WithTimeout(slow, 5*time.Millisecond)(context.Background(), 1)
	require.ErrorIs(t, err, gferrors.ErrTimeout)
	require.True(t, gferrors.IsRetryable(err))

	fast := WithTimeout(Value(double), time.Second)
	data, err := fast(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, 8, data)
}

func TestWithTimeoutInScheduler(t *testing.T) {
	s := newScheduler(t, WithTimeout(func(ctx context.Context, _ int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, 5*time.Millisecond), Config[int, int]{})

	snap := await(t, submit(t, s, 1))
	require.Equal(t, "FAILED", snap.Status.String())
	require.ErrorIs(t, snap.Err, gferrors.ErrTimeout)
}
