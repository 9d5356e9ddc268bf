package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vnykmshr/execflow/pkg/execution"
)

// Handle is the caller's view of one submitted execution. Submissions that
// an EXHAUST scheduler folds into the in-flight execution receive the same
// *Handle.
type Handle[P, D any] struct {
	s   *Scheduler[P, D]
	job *job[P, D]
}

// ID returns the execution identifier.
func (h *Handle[P, D]) ID() string { return h.job.rec.ID() }

// Params returns the submitted params.
func (h *Handle[P, D]) Params() P { return h.job.rec.Params() }

// HashedParams returns the cache key, or "" when the execution is uncached.
func (h *Handle[P, D]) HashedParams() string { return h.job.rec.HashedParams() }

// Status returns the latest published status. It is StatusNew while the
// first transition is still queued on the control loop.
func (h *Handle[P, D]) Status() execution.Status { return h.job.rec.Status() }

// Data returns the result once the status is SUCCESS.
func (h *Handle[P, D]) Data() D { return h.job.rec.Data() }

// Err returns the failure once the status is FAILED.
func (h *Handle[P, D]) Err() error { return h.job.rec.Err() }

// Snapshot returns the latest published state.
func (h *Handle[P, D]) Snapshot() execution.Snapshot[P, D] { return h.job.rec.Snapshot() }

// Done returns a channel closed once the execution is terminal.
func (h *Handle[P, D]) Done() <-chan struct{} { return h.job.rec.Done() }

// Await blocks until the execution is terminal or ctx is done.
// Do not call it from a hook or listener: transitions are delivered on the
// goroutine running them, so waiting there never returns.
func (h *Handle[P, D]) Await(ctx context.Context) (execution.Snapshot[P, D], error) {
	return h.job.rec.Await(ctx)
}

// Subscribe registers fn for the execution's snapshots. If the execution
// has already published, fn first receives the latest snapshot. Delivery
// happens on the scheduler's control loop, so fn never runs concurrently
// with hooks.
func (h *Handle[P, D]) Subscribe(fn execution.Listener[P, D]) (unsubscribe func()) {
	var (
		active atomic.Bool
		mu     sync.Mutex
		inner  func()
	)
	active.Store(true)

	h.s.schedule(func() {
		if !active.Load() {
			return
		}
		u := h.job.rec.Subscribe(func(snap execution.Snapshot[P, D]) {
			if active.Load() {
				fn(snap)
			}
		})
		mu.Lock()
		inner = u
		mu.Unlock()
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			active.Store(false)
			mu.Lock()
			u := inner
			mu.Unlock()
			if u != nil {
				u()
			}
		})
	}
}

// Cancel cancels the execution if it is not terminal yet. The invocation's
// context is cancelled and any later result is discarded. It reports whether
// the execution was cancelled by this call.
func (h *Handle[P, D]) Cancel() bool {
	return h.s.cancel(h.job)
}
