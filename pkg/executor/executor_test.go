package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/execflow/internal/testutil"
	"github.com/vnykmshr/execflow/pkg/cache"
	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
	"github.com/vnykmshr/execflow/pkg/execution"
	"github.com/vnykmshr/execflow/pkg/policy"
)

func double(p int) int { return p * 2 }

func TestNewValidation(t *testing.T) {
	fn := Value(double)

	tests := []struct {
		name   string
		fn     Func[int, int]
		config Config[int, int]
	}{
		{"nil func", nil, Config[int, int]{}},
		{"unknown mode", fn, Config[int, int]{Mode: policy.Mode(9)}},
		{"unknown policy", fn, Config[int, int]{Policy: policy.Policy(9)}},
		{"negative merge capacity", fn, Config[int, int]{Policy: policy.Merge, MergeCapacity: -1}},
		{"negative cache ttl", fn, Config[int, int]{Cache: true, CacheTTL: -time.Second}},
		{"store without cache", fn, Config[int, int]{CacheStore: &brokenStore[int]{}}},
		{"sweep without cache", fn, Config[int, int]{CacheSweep: "@every 1m"}},
		{"sweep on store without purge", fn, Config[int, int]{Cache: true, CacheStore: &brokenStore[int]{}, CacheSweep: "@every 1m"}},
		{"invalid sweep schedule", fn, Config[int, int]{Cache: true, CacheSweep: "whenever"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.fn, tt.config)
			require.Error(t, err)
			require.Nil(t, s)
			require.True(t, gferrors.IsValidationError(err), "got %T: %v", err, err)
			require.ErrorIs(t, err, gferrors.ErrInvalidConfiguration)
		})
	}
}

func TestMustNewPanicsOnInvalidConfig(t *testing.T) {
	require.Panics(t, func() {
		MustNew[int, int](nil, DefaultConfig[int, int]())
	})

	s := MustNew(Value(double), DefaultConfig[int, int]())
	require.NoError(t, s.Close())
}

func TestSwitchCancelsPrevious(t *testing.T) {
	g := newGate()
	succeeded := testutil.NewRecorder[int]()
	cancelled := testutil.NewRecorder[int]()

	s := newScheduler(t, g.double, Config[int, int]{
		Policy: policy.Switch,
		Hooks: Hooks[int, int]{
			OnSuccess: func(data, _ int, _ execution.Context) { succeeded.Add(data) },
			OnCancel:  func(p int, _ execution.Context) { cancelled.Add(p) },
		},
	})

	a := submit(t, s, 1)
	eventuallyStatus(t, a, execution.StatusProcessing)

	b := submit(t, s, 2)
	eventuallyStatus(t, a, execution.StatusCancelled)
	g.expectAborted(t, 1)

	// A result arriving after cancellation is discarded.
	g.release(1)
	g.release(2)

	snap := await(t, b)
	require.Equal(t, execution.StatusSuccess, snap.Status)
	require.Equal(t, 4, snap.Data)

	require.Eventually(t, func() bool { return succeeded.Len() == 1 }, waitFor, time.Millisecond)
	require.Equal(t, []int{4}, succeeded.Values())
	require.Equal(t, []int{1}, cancelled.Values())
	require.Equal(t, execution.StatusCancelled, a.Status())
	require.Equal(t, 0, a.Data())
}

func TestSwitchKeepsOnlyLatest(t *testing.T) {
	g := newGate()
	s := newScheduler(t, g.double, Config[int, int]{Policy: policy.Switch, Detailed: true})
	events := watch(s)

	a := submit(t, s, 1)
	b := submit(t, s, 2)
	c := submit(t, s, 3)

	eventuallyStatuses(t, events, a.ID(), execution.StatusWaiting, execution.StatusProcessing, execution.StatusCancelled)
	eventuallyStatuses(t, events, b.ID(), execution.StatusWaiting, execution.StatusProcessing, execution.StatusCancelled)
	eventuallyStatus(t, c, execution.StatusProcessing)

	g.release(3)
	require.Equal(t, 6, await(t, c).Data)
}

func TestExhaustFoldsSubmissions(t *testing.T) {
	g := newGate()
	s := newScheduler(t, g.double, Config[int, int]{Policy: policy.Exhaust})

	a := submit(t, s, 1)
	eventuallyStatus(t, a, execution.StatusProcessing)

	b := submit(t, s, 2)
	require.Same(t, a, b)
	require.Equal(t, 1, b.Params())
	require.Equal(t, int32(1), g.calls.Load())

	g.release(1)
	require.Equal(t, 2, await(t, a).Data)

	c := submit(t, s, 3)
	require.NotSame(t, a, c)
	g.release(3)
	require.Equal(t, 6, await(t, c).Data)
	require.Equal(t, int32(2), g.calls.Load())
}

func TestExhaustOverrideReplacesHooks(t *testing.T) {
	g := newGate()
	s := newScheduler(t, g.double, Config[int, int]{
		Policy:  policy.Exhaust,
		Context: execution.Context{"tenant": "default"},
	})

	first := testutil.NewRecorder[int]()
	second := testutil.NewRecorder[execution.Context]()

	a, err := s.SubmitWith(1, Override[int, int]{
		Hooks: Hooks[int, int]{OnSuccess: func(data, _ int, _ execution.Context) { first.Add(data) }},
	})
	require.NoError(t, err)
	eventuallyStatus(t, a, execution.StatusProcessing)

	b, err := s.SubmitWith(2, Override[int, int]{
		Context: execution.Context{"tenant": "override"},
		Hooks:   Hooks[int, int]{OnSuccess: func(_, _ int, ctx execution.Context) { second.Add(ctx) }},
	})
	require.NoError(t, err)
	require.Same(t, a, b)

	g.release(1)
	await(t, a)

	require.Eventually(t, func() bool { return second.Len() == 1 }, waitFor, time.Millisecond)
	require.Equal(t, 0, first.Len())
	last, _ := second.Last()
	require.Equal(t, "override", last["tenant"])
}

func TestConcatRunsInOrder(t *testing.T) {
	var running, peak atomic.Int32
	fn := func(ctx context.Context, p int) (int, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		defer running.Add(-1)

		select {
		case <-time.After(10 * time.Millisecond):
			return p * 2, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	results := testutil.NewRecorder[int]()
	s := newScheduler(t, fn, Config[int, int]{
		Policy: policy.Concat,
		Hooks: Hooks[int, int]{
			OnSuccess: func(data, _ int, _ execution.Context) { results.Add(data) },
		},
	})
	events := watch(s)

	a := submit(t, s, 1)
	b := submit(t, s, 2)
	c := submit(t, s, 3)

	require.Equal(t, 6, await(t, c).Data)
	require.Eventually(t, func() bool { return results.Len() == 3 }, waitFor, time.Millisecond)
	require.Equal(t, []int{2, 4, 6}, results.Values())
	require.Equal(t, int32(1), peak.Load())

	eventuallyStatuses(t, events, a.ID(), execution.StatusProcessing, execution.StatusSuccess)
	eventuallyStatuses(t, events, b.ID(), execution.StatusWaiting, execution.StatusProcessing, execution.StatusSuccess)
}

func TestMergeBoundsConcurrency(t *testing.T) {
	g := newGate()
	s := newScheduler(t, g.double, Config[int, int]{Policy: policy.Merge, MergeCapacity: 2})

	a := submit(t, s, 1)
	b := submit(t, s, 2)
	c := submit(t, s, 3)

	eventuallyStatus(t, a, execution.StatusProcessing)
	eventuallyStatus(t, b, execution.StatusProcessing)
	require.Equal(t, execution.StatusWaiting, c.Status())
	require.Equal(t, 2, s.Active())
	require.Equal(t, 1, s.Queued())

	g.release(2)
	require.Equal(t, 4, await(t, b).Data)
	eventuallyStatus(t, c, execution.StatusProcessing)
	require.Equal(t, execution.StatusProcessing, a.Status())

	g.release(1)
	g.release(3)
	require.Equal(t, 2, await(t, a).Data)
	require.Equal(t, 6, await(t, c).Data)
	require.Equal(t, int32(3), g.calls.Load())
}

func TestSetMergeCapacity(t *testing.T) {
	g := newGate()
	s := newScheduler(t, g.double, Config[int, int]{Policy: policy.Merge, MergeCapacity: 1})

	a := submit(t, s, 1)
	b := submit(t, s, 2)
	eventuallyStatus(t, a, execution.StatusProcessing)
	require.Equal(t, execution.StatusWaiting, b.Status())

	require.NoError(t, s.SetMergeCapacity(2))
	eventuallyStatus(t, b, execution.StatusProcessing)

	err := s.SetMergeCapacity(0)
	require.True(t, gferrors.IsValidationError(err))

	concat := newScheduler(t, Value(double), Config[int, int]{Policy: policy.Concat})
	err = concat.SetMergeCapacity(3)
	require.True(t, gferrors.IsValidationError(err))

	g.release(1)
	g.release(2)
	await(t, a)
	await(t, b)
}

func TestCacheReusesStructurallyEqualParams(t *testing.T) {
	var calls atomic.Int32
	sum := func(_ context.Context, p map[string]int) (int, error) {
		calls.Add(1)
		total := 0
		for _, v := range p {
			total += v
		}
		return total, nil
	}

	s := newScheduler(t, sum, Config[map[string]int, int]{Policy: policy.Concat, Cache: true})
	events := watch(s)

	first := map[string]int{"a": 1, "b": 2}
	second := make(map[string]int)
	second["b"] = 2
	second["a"] = 1

	h1 := submit(t, s, first)
	require.Equal(t, 3, await(t, h1).Data)

	h2 := submit(t, s, second)
	snap := await(t, h2)
	require.Equal(t, execution.StatusSuccess, snap.Status)
	require.Equal(t, 3, snap.Data)
	require.Equal(t, int32(1), calls.Load())
	require.NotEmpty(t, h1.HashedParams())
	require.Equal(t, h1.HashedParams(), h2.HashedParams())
	eventuallyStatuses(t, events, h2.ID(), execution.StatusWaiting, execution.StatusSuccess)

	other := submit(t, s, map[string]int{"a": 1, "b": 3})
	require.Equal(t, 4, await(t, other).Data)
	require.Equal(t, int32(2), calls.Load())

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	require.NoError(t, s.Invalidate(ctx, first))
	await(t, submit(t, s, second))
	require.Equal(t, int32(3), calls.Load())

	require.NoError(t, s.ClearCache(ctx))
	await(t, submit(t, s, first))
	await(t, submit(t, s, map[string]int{"b": 3, "a": 1}))
	require.Equal(t, int32(5), calls.Load())
}

func TestCacheSkipsFailures(t *testing.T) {
	var calls atomic.Int32
	fn := func(_ context.Context, p int) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("transient")
		}
		return p, nil
	}

	s := newScheduler(t, fn, Config[int, int]{Policy: policy.Concat, Cache: true})

	require.Equal(t, execution.StatusFailed, await(t, submit(t, s, 5)).Status)
	require.Equal(t, execution.StatusSuccess, await(t, submit(t, s, 5)).Status)
	require.Equal(t, execution.StatusSuccess, await(t, submit(t, s, 5)).Status)
	require.Equal(t, int32(2), calls.Load())
}

func TestCacheTTL(t *testing.T) {
	var calls atomic.Int32
	fn := func(_ context.Context, p int) (int, error) {
		calls.Add(1)
		return p, nil
	}

	clock := testutil.NewMockClock(time.Now())
	store := cache.NewMemoryStore[int](cache.MemoryOptions{TTL: time.Minute, Clock: clock})
	s := newScheduler(t, fn, Config[int, int]{
		Policy:     policy.Concat,
		Cache:      true,
		CacheStore: store,
		CacheSweep: "@every 1h",
	})

	await(t, submit(t, s, 1))
	await(t, submit(t, s, 1))
	require.Equal(t, int32(1), calls.Load())

	clock.Advance(2 * time.Minute)
	await(t, submit(t, s, 1))
	require.Equal(t, int32(2), calls.Load())
}

type searchTerm struct{ term string }

func TestCacheKeysCoverUnexportedFields(t *testing.T) {
	var calls atomic.Int32
	fn := func(_ context.Context, q searchTerm) (string, error) {
		calls.Add(1)
		return "result:" + q.term, nil
	}
	s := newScheduler(t, fn, Config[searchTerm, string]{
		Policy:        policy.Merge,
		MergeCapacity: 4,
		Cache:         true,
	})

	a := await(t, submit(t, s, searchTerm{"a"}))
	b := await(t, submit(t, s, searchTerm{"b"}))

	require.Equal(t, "result:a", a.Data)
	require.Equal(t, "result:b", b.Data)
	require.NotEqual(t, a.HashedParams, b.HashedParams)
	require.Equal(t, int32(2), calls.Load())

	again := await(t, submit(t, s, searchTerm{"a"}))
	require.Equal(t, "result:a", again.Data)
	require.Equal(t, int32(2), calls.Load())
}

func TestUnhashableParamsRunUncached(t *testing.T) {
	var calls atomic.Int32
	fn := func(_ context.Context, _ any) (int, error) {
		calls.Add(1)
		return 1, nil
	}
	s := newScheduler(t, fn, Config[any, int]{Policy: policy.Concat, Cache: true})

	params := map[string]any{"callback": func() {}}
	h1 := submit[any, int](t, s, params)
	require.Equal(t, execution.StatusSuccess, await(t, h1).Status)
	require.Empty(t, h1.HashedParams())

	await(t, submit[any, int](t, s, params))
	require.Equal(t, int32(2), calls.Load())
}

func TestFailureAndRetry(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	fn := func(_ context.Context, p int) (int, error) {
		if calls.Add(1) == 1 {
			return 0, boom
		}
		return p * 10, nil
	}

	failures := testutil.NewRecorder[error]()
	s := newScheduler(t, fn, Config[int, int]{
		Policy: policy.Concat,
		GetID:  func(p int) string { return fmt.Sprintf("job-%d", p) },
		Hooks: Hooks[int, int]{
			OnError: func(err error, _ int, _ execution.Context) { failures.Add(err) },
		},
	})

	h := submit(t, s, 7)
	require.Equal(t, "job-7", h.ID())
	snap := await(t, h)
	require.Equal(t, execution.StatusFailed, snap.Status)
	require.ErrorIs(t, snap.Err, boom)
	require.ErrorIs(t, h.Err(), boom)
	require.Equal(t, 0, snap.Data)
	require.Eventually(t, func() bool { return failures.Len() == 1 }, waitFor, time.Millisecond)
	require.True(t, s.IsError())

	retried, err := s.Retry("job-7")
	require.NoError(t, err)
	require.NotSame(t, h, retried)
	require.Equal(t, 70, await(t, retried).Data)
	require.True(t, s.IsSuccess())

	_, err = s.Retry("job-7")
	require.ErrorIs(t, err, gferrors.ErrNotFound)

	_, err = s.Retry("missing")
	require.ErrorIs(t, err, gferrors.ErrNotFound)
}

func TestRetryWithOverride(t *testing.T) {
	fn := Fallible(func(int) (int, error) { return 0, errors.New("always") })
	s := newScheduler(t, fn, Config[int, int]{
		Policy: policy.Concat,
		GetID:  func(p int) string { return fmt.Sprint(p) },
	})

	require.Equal(t, execution.StatusFailed, await(t, submit(t, s, 3)).Status)

	retried, err := s.Retry("3", Override[int, int]{Func: Value(double)})
	require.NoError(t, err)
	require.Equal(t, 6, await(t, retried).Data)
}

func TestInvocationPanicFails(t *testing.T) {
	fn := func(context.Context, int) (int, error) { panic("kaboom") }
	s := newScheduler(t, fn, Config[int, int]{})

	snap := await(t, submit(t, s, 1))
	require.Equal(t, execution.StatusFailed, snap.Status)
	require.ErrorIs(t, snap.Err, gferrors.ErrInvocationPanic)
	require.Contains(t, snap.Err.Error(), "kaboom")
}

func TestHookPanicPropagates(t *testing.T) {
	s := newScheduler(t, Value(double), Config[int, int]{
		Policy: policy.Concat,
		Hooks: Hooks[int, int]{
			OnProcessing: func(p int, _ execution.Context) {
				if p == 1 {
					panic("hook failed")
				}
			},
		},
	})

	events := watch(s)

	require.PanicsWithValue(t, "hook failed", func() {
		_, _ = s.Submit(1)
	})

	// The execution whose hook panicked still runs to completion.
	require.Eventually(t, func() bool {
		return slices.ContainsFunc(events.Values(), func(snap execution.Snapshot[int, int]) bool {
			return snap.Params == 1 && snap.Status == execution.StatusSuccess
		})
	}, waitFor, time.Millisecond)

	h := submit(t, s, 2)
	require.Equal(t, 4, await(t, h).Data)
}

func TestHookOrderAndContext(t *testing.T) {
	order := testutil.NewRecorder[string]()
	contexts := testutil.NewRecorder[execution.Context]()

	s := newScheduler(t, Value(double), Config[int, int]{
		Context: execution.Context{"tenant": "a", "region": "eu"},
		Hooks: Hooks[int, int]{
			OnProcessing: func(int, execution.Context) { order.Add("default processing") },
			OnSuccess: func(_, _ int, ctx execution.Context) {
				order.Add("default success")
				contexts.Add(ctx)
			},
		},
	})

	h, err := s.SubmitWith(1, Override[int, int]{
		Context: execution.Context{"tenant": "b"},
		Hooks: Hooks[int, int]{
			OnProcessing: func(int, execution.Context) { order.Add("call processing") },
			OnSuccess:    func(int, int, execution.Context) { order.Add("call success") },
		},
	})
	require.NoError(t, err)
	await(t, h)

	require.Eventually(t, func() bool { return order.Len() == 4 }, waitFor, time.Millisecond)
	require.Equal(t, []string{"call processing", "default processing", "call success", "default success"}, order.Values())

	ctx, _ := contexts.Last()
	require.Equal(t, "b", ctx["tenant"])
	require.Equal(t, "eu", ctx["region"])
	require.Equal(t, "b", h.Snapshot().Context["tenant"])
}

func TestOverrideFunc(t *testing.T) {
	s := newScheduler(t, Value(double), Config[int, int]{Policy: policy.Concat})

	h, err := s.SubmitWith(5, Override[int, int]{Func: Value(func(p int) int { return p + 1 })})
	require.NoError(t, err)
	require.Equal(t, 6, await(t, h).Data)
	require.Equal(t, 10, await(t, submit(t, s, 5)).Data)
}

func TestDetailedPublishesWaiting(t *testing.T) {
	tests := []struct {
		detailed bool
		want     []execution.Status
	}{
		{false, []execution.Status{execution.StatusProcessing, execution.StatusSuccess}},
		{true, []execution.Status{execution.StatusWaiting, execution.StatusProcessing, execution.StatusSuccess}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("detailed=%v", tt.detailed), func(t *testing.T) {
			s := newScheduler(t, Value(double), Config[int, int]{Detailed: tt.detailed})
			events := watch(s)

			h := submit(t, s, 1)
			await(t, h)
			eventuallyStatuses(t, events, h.ID(), tt.want...)
		})
	}
}

func TestSingleTerminalTransition(t *testing.T) {
	policies := []policy.Policy{policy.Switch, policy.Concat, policy.Exhaust, policy.Merge}

	for _, p := range policies {
		t.Run(p.String(), func(t *testing.T) {
			fn := func(ctx context.Context, n int) (int, error) {
				select {
				case <-time.After(time.Millisecond):
					return n, nil
				case <-ctx.Done():
					return 0, ctx.Err()
				}
			}
			s := newScheduler(t, fn, Config[int, int]{Policy: p, MergeCapacity: 3, Cache: true})
			events := watch(s)

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				handles = make(map[string]*Handle[int, int])
				errs    []error
			)
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					h, err := s.Submit(n % 7)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, err)
						return
					}
					handles[h.ID()] = h
				}(i)
			}
			wg.Wait()
			require.Empty(t, errs)

			for _, h := range handles {
				await(t, h)
			}

			terminalCount := func() map[string]int {
				counts := make(map[string]int)
				for _, snap := range events.Values() {
					if snap.Status.IsTerminal() {
						counts[snap.ID]++
					}
				}
				return counts
			}
			require.Eventually(t, func() bool { return len(terminalCount()) == len(handles) }, waitFor, time.Millisecond)
			for id, n := range terminalCount() {
				require.Equal(t, 1, n, "execution %s", id)
			}

			lastSeq := make(map[string]uint64)
			for _, snap := range events.Values() {
				require.Greater(t, snap.Seq, lastSeq[snap.ID])
				lastSeq[snap.ID] = snap.Seq
			}
		})
	}
}

func TestReentrantSubmitFromHook(t *testing.T) {
	next := make(chan *Handle[int, int], 1)
	statusOnReturn := make(chan execution.Status, 1)

	var s *Scheduler[int, int]
	s = newScheduler(t, Value(double), Config[int, int]{
		Policy: policy.Concat,
		Hooks: Hooks[int, int]{
			OnSuccess: func(_, p int, _ execution.Context) {
				if p == 1 {
					h, err := s.Submit(2)
					if err == nil {
						statusOnReturn <- h.Status()
						next <- h
					}
				}
			},
		},
	})

	await(t, submit(t, s, 1))

	select {
	case h := <-next:
		// This goroutine was draining, so the submission was still queued.
		require.Equal(t, execution.StatusNew, <-statusOnReturn)
		require.Equal(t, 4, await(t, h).Data)
	case <-time.After(waitFor):
		t.Fatal("hook never submitted")
	}
}

func TestHandleCancel(t *testing.T) {
	g := newGate()
	s := newScheduler(t, g.double, Config[int, int]{Policy: policy.Concat})

	a := submit(t, s, 1)
	b := submit(t, s, 2)
	eventuallyStatus(t, a, execution.StatusProcessing)

	require.True(t, b.Cancel())
	require.False(t, b.Cancel())
	eventuallyStatus(t, b, execution.StatusCancelled)

	require.True(t, a.Cancel())
	eventuallyStatus(t, a, execution.StatusCancelled)
	g.expectAborted(t, 1)

	c := submit(t, s, 3)
	eventuallyStatus(t, c, execution.StatusProcessing)
	g.release(3)
	require.Equal(t, 6, await(t, c).Data)
	require.False(t, c.Cancel())
	require.Equal(t, int32(2), g.calls.Load())
}

func TestHandleSubscribe(t *testing.T) {
	g := newGate()
	s := newScheduler(t, g.double, Config[int, int]{})

	h := submit(t, s, 1)
	eventuallyStatus(t, h, execution.StatusProcessing)

	got := history(h)
	require.Eventually(t, func() bool { return len(got()) == 1 }, waitFor, time.Millisecond)

	g.release(1)
	await(t, h)
	require.Eventually(t, func() bool {
		return len(got()) == 2
	}, waitFor, time.Millisecond)
	require.Equal(t, []execution.Status{execution.StatusProcessing, execution.StatusSuccess}, got())
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	s := newScheduler(t, Value(double), Config[int, int]{Policy: policy.Concat})

	events := testutil.NewRecorder[execution.Snapshot[int, int]]()
	unsubscribe := s.Subscribe(events.Add)

	h := submit(t, s, 1)
	await(t, h)
	eventuallyStatuses(t, events, h.ID(), execution.StatusProcessing, execution.StatusSuccess)

	unsubscribe()
	unsubscribe()

	n := events.Len()
	await(t, submit(t, s, 2))
	require.Equal(t, n, events.Len())
}

func TestCloseCancelsEverything(t *testing.T) {
	g := newGate()
	cancelled := testutil.NewRecorder[int]()
	s := newScheduler(t, g.double, Config[int, int]{
		Policy: policy.Concat,
		Hooks: Hooks[int, int]{
			OnCancel: func(p int, _ execution.Context) { cancelled.Add(p) },
		},
	})
	events := watch(s)

	a := submit(t, s, 1)
	b := submit(t, s, 2)
	eventuallyStatus(t, a, execution.StatusProcessing)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.Equal(t, execution.StatusCancelled, await(t, a).Status)
	require.Equal(t, execution.StatusCancelled, await(t, b).Status)
	g.expectAborted(t, 1)

	eventuallyStatuses(t, events, b.ID(), execution.StatusWaiting, execution.StatusCancelled)
	require.Eventually(t, func() bool { return cancelled.Len() == 2 }, waitFor, time.Millisecond)
	require.ElementsMatch(t, []int{1, 2}, cancelled.Values())

	_, err := s.Submit(3)
	require.ErrorIs(t, err, gferrors.ErrClosed)
	require.Equal(t, 0, s.Active())
	require.Equal(t, 0, s.Queued())
}

func TestStatusAggregation(t *testing.T) {
	t.Run("sequential reports latest", func(t *testing.T) {
		g := newGate()
		s := newScheduler(t, g.double, Config[int, int]{Policy: policy.Concat, Mode: policy.Sequential})
		require.Equal(t, execution.StatusNew, s.Status())

		a := submit(t, s, 1)
		eventuallyStatus(t, a, execution.StatusProcessing)
		require.True(t, s.IsProcessing())

		submit(t, s, 2)
		require.Equal(t, execution.StatusWaiting, s.Status())

		g.release(1)
		g.release(2)
		require.Eventually(t, s.IsSuccess, waitFor, time.Millisecond)
	})

	t.Run("concurrent reports any processing", func(t *testing.T) {
		g := newGate()
		s := newScheduler(t, g.double, Config[int, int]{Policy: policy.Concat, Mode: policy.Concurrent})

		a := submit(t, s, 1)
		b := submit(t, s, 2)
		eventuallyStatus(t, a, execution.StatusProcessing)
		require.Equal(t, execution.StatusWaiting, b.Status())
		require.Equal(t, execution.StatusProcessing, s.Status())

		g.release(1)
		eventuallyStatus(t, b, execution.StatusProcessing)
		require.Equal(t, execution.StatusProcessing, s.Status())

		g.release(2)
		await(t, b)
		require.Eventually(t, s.IsSuccess, waitFor, time.Millisecond)
	})
}

func TestFailingStoreFallsBackToInvocation(t *testing.T) {
	var calls atomic.Int32
	fn := func(_ context.Context, p int) (int, error) {
		calls.Add(1)
		return p, nil
	}
	store := &brokenStore[int]{err: errors.New("connection refused")}
	s := newScheduler(t, fn, Config[int, int]{Policy: policy.Concat, Cache: true, CacheStore: store})

	require.Equal(t, 4, await(t, submit(t, s, 4)).Data)
	require.Equal(t, 4, await(t, submit(t, s, 4)).Data)
	require.Equal(t, int32(2), calls.Load())

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	require.Error(t, s.Invalidate(ctx, 4))
	require.Error(t, s.ClearCache(ctx))
}

func TestCacheOperationsWithoutCache(t *testing.T) {
	s := newScheduler(t, Value(double), Config[int, int]{})
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	require.NoError(t, s.Invalidate(ctx, 1))
	require.NoError(t, s.ClearCache(ctx))
	require.Empty(t, await(t, submit(t, s, 1)).HashedParams)
}

// brokenStore fails every operation with err.
type brokenStore[D any] struct {
	err error
}

func (b *brokenStore[D]) Get(context.Context, string) (D, bool, error) {
	var zero D
	return zero, false, b.err
}

func (b *brokenStore[D]) Set(context.Context, string, D) error { return b.err }
func (b *brokenStore[D]) Delete(context.Context, string) error  { return b.err }
func (b *brokenStore[D]) Clear(context.Context) error           { return b.err }
