/*
Package executor schedules asynchronous invocations of a single function
under a concurrency policy and publishes the lifecycle of every execution.

A Scheduler is bound to one Func. Each Submit creates an execution (or, under
EXHAUST, folds into the one in flight) and returns a *Handle at once; the
function itself runs on its own goroutine or on a workerpool.Pool:

	s, err := executor.New(executor.Fallible(fetchUser), executor.Config[int, User]{
		Policy: policy.Switch,
		Cache:  true,
		Hooks: executor.Hooks[int, User]{
			OnSuccess: func(u User, id int, _ execution.Context) { render(u) },
		},
	})
	if err != nil {
		return err
	}
	defer s.Close()

	h, _ := s.Submit(42)
	snap, err := h.Await(ctx)

Policies:

  - Switch cancels whatever is processing or waiting and starts the newest
    submission.
  - Concat runs submissions one at a time in submission order.
  - Exhaust ignores submissions while one is in flight and hands back the
    in-flight handle.
  - Merge runs up to MergeCapacity submissions at once and queues the rest.

Statuses:

Every execution publishes NEW -> [WAITING] -> PROCESSING -> SUCCESS | FAILED,
or CANCELLED from any non-terminal status. A cache hit goes from WAITING
straight to SUCCESS. Exactly one terminal status is published per execution;
a result that arrives after cancellation is discarded and the invocation's
context is cancelled.

Hooks and listeners:

Transitions are applied in decision order by a single goroutine at a time,
usually the caller of Submit or the goroutine that finished an invocation.
Hooks run there, per-call hooks before the scheduler's defaults, and may call
Submit or Cancel. A panicking hook propagates to that goroutine. Do not call
Handle.Await from a hook.

Caching:

With Cache set, results are stored under the structural hash of params (see
cache.Hash), so two maps with the same entries share a result. Failures are
never cached. The default store is in memory; a cache.RedisStore shares
results between processes. Lookups run off the submitting goroutine, and a
failing store is logged and treated as a miss.
*/
package executor
