// Package execution implements the per-request state machine used by the
// scheduler.
//
// A Record moves through
//
//	NEW -> WAITING -> PROCESSING -> SUCCESS | FAILED
//
// with CANCELLED reachable from every non-terminal status and a cache restore
// path (NEW | WAITING -> SUCCESS) that skips PROCESSING. Every transition is
// published as an immutable Snapshot to the record's subscribers; a subscriber
// that joins late is immediately replayed the most recent snapshot.
//
// Transition methods panic with *TransitionError when called from a status
// that does not allow them. That is a programming error in the caller, not a
// runtime condition.
package execution

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Snapshot is an immutable view of a record after one transition.
type Snapshot[P, D any] struct {
	ID           string
	Params       P
	HashedParams string
	Status       Status
	Data         D
	Err          error
	Context      Context
	// Seq counts transitions on the record, starting at 1 for the first one.
	Seq uint64
}

// Listener receives snapshots from a record.
type Listener[P, D any] func(Snapshot[P, D])

// Options configures a new Record.
type Options struct {
	// ID identifies the record. A random UUID is used when empty.
	ID string

	// HashedParams is the structural hash of the params, if caching is on.
	HashedParams string

	// Context is copied into the record and exposed to hooks.
	Context Context
}

type subscription[P, D any] struct {
	fn     Listener[P, D]
	active atomic.Bool
}

type delivery[P, D any] struct {
	snap    Snapshot[P, D]
	targets []*subscription[P, D]
}

// Record is the state and event stream of one submitted request.
// It is safe for concurrent use.
type Record[P, D any] struct {
	id      string
	params  P
	hashed  string
	context Context
	done    chan struct{}

	mu        sync.Mutex
	status    Status
	data      D
	err       error
	seq       uint64
	last      Snapshot[P, D]
	published bool
	subs      []*subscription[P, D]

	// pending holds deliveries in publication order; whichever goroutine
	// finds delivering unset drains it.
	pending    []delivery[P, D]
	delivering bool
}

// New creates a record in StatusNew.
func New[P, D any](params P, opts Options) *Record[P, D] {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Record[P, D]{
		id:      id,
		params:  params,
		hashed:  opts.HashedParams,
		context: opts.Context.Clone(),
		done:    make(chan struct{}),
	}
}

// ID returns the record identifier.
func (r *Record[P, D]) ID() string { return r.id }

// Params returns the request payload.
func (r *Record[P, D]) Params() P { return r.params }

// HashedParams returns the cache key, or "" when caching was not enabled.
func (r *Record[P, D]) HashedParams() string { return r.hashed }

// Context returns the merged hook context. Callers must not modify it.
func (r *Record[P, D]) Context() Context { return r.context }

// Status returns the current status.
func (r *Record[P, D]) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Data returns the result; the zero value unless the status is SUCCESS.
func (r *Record[P, D]) Data() D {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

// Err returns the failure; nil unless the status is FAILED.
func (r *Record[P, D]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Snapshot returns the current state.
func (r *Record[P, D]) Snapshot() Snapshot[P, D] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Done returns a channel closed once the record reaches a terminal status.
func (r *Record[P, D]) Done() <-chan struct{} {
	return r.done
}

// Await blocks until the record is terminal or ctx is done.
func (r *Record[P, D]) Await(ctx context.Context) (Snapshot[P, D], error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// Wait moves the record to WAITING.
func (r *Record[P, D]) Wait() {
	var zero D
	r.transition(opWait, zero, nil)
}

// Process moves the record to PROCESSING.
func (r *Record[P, D]) Process() {
	var zero D
	r.transition(opProcess, zero, nil)
}

// Succeed moves a PROCESSING record to SUCCESS with data.
func (r *Record[P, D]) Succeed(data D) {
	r.transition(opSucceed, data, nil)
}

// Fail moves a PROCESSING record to FAILED with err.
func (r *Record[P, D]) Fail(err error) {
	var zero D
	r.transition(opFail, zero, err)
}

// Cancel moves a non-terminal record to CANCELLED.
func (r *Record[P, D]) Cancel() {
	var zero D
	r.transition(opCancel, zero, nil)
}

// Restore completes a record that never started processing with a
// previously produced result, as on a cache hit.
func (r *Record[P, D]) Restore(data D) {
	r.transition(opRestore, data, nil)
}

// Subscribe registers fn for every later transition. If the record has
// already published, fn first receives the latest snapshot. The returned
// function removes the subscription.
func (r *Record[P, D]) Subscribe(fn Listener[P, D]) (unsubscribe func()) {
	sub := &subscription[P, D]{fn: fn}
	sub.active.Store(true)

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	if r.published {
		r.pending = append(r.pending, delivery[P, D]{
			snap:    r.last,
			targets: []*subscription[P, D]{sub},
		})
	}
	r.mu.Unlock()

	r.flush()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, s := range r.subs {
				if s == sub {
					r.subs = append(r.subs[:i], r.subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (r *Record[P, D]) transition(op operation, data D, err error) {
	r.mu.Lock()
	if !op.allowedFrom(r.status) {
		from := r.status
		r.mu.Unlock()
		panic(&TransitionError{ID: r.id, Op: op.name, From: from, To: op.to})
	}

	r.status = op.to
	switch op.to {
	case StatusSuccess:
		r.data = data
	case StatusFailed:
		r.err = err
	}
	r.seq++

	snap := r.snapshotLocked()
	r.last = snap
	r.published = true

	targets := make([]*subscription[P, D], len(r.subs))
	copy(targets, r.subs)
	r.pending = append(r.pending, delivery[P, D]{snap: snap, targets: targets})

	if op.to.IsTerminal() {
		close(r.done)
	}
	r.mu.Unlock()

	r.flush()
}

// flush delivers pending snapshots in order. A call made while another
// goroutine (or an enclosing listener) is delivering returns at once; the
// active deliverer picks up the new entries. When a listener panics, the
// undelivered remainder is handed to a fresh goroutine and the panic goes on
// to the caller.
func (r *Record[P, D]) flush() {
	r.mu.Lock()
	if r.delivering {
		r.mu.Unlock()
		return
	}
	r.delivering = true
	r.mu.Unlock()

	var rest delivery[P, D]
	finished := false
	defer func() {
		if finished {
			return
		}
		r.mu.Lock()
		if len(rest.targets) > 0 {
			r.pending = append([]delivery[P, D]{rest}, r.pending...)
		}
		r.delivering = false
		resume := len(r.pending) > 0
		r.mu.Unlock()
		if resume {
			go r.flush()
		}
	}()

	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.delivering = false
			finished = true
			r.mu.Unlock()
			return
		}
		d := r.pending[0]
		r.pending[0] = delivery[P, D]{}
		r.pending = r.pending[1:]
		r.mu.Unlock()

		for i, sub := range d.targets {
			rest = delivery[P, D]{snap: d.snap, targets: d.targets[i+1:]}
			if sub.active.Load() {
				sub.fn(d.snap)
			}
		}
		rest = delivery[P, D]{}
	}
}

func (r *Record[P, D]) snapshotLocked() Snapshot[P, D] {
	return Snapshot[P, D]{
		ID:           r.id,
		Params:       r.params,
		HashedParams: r.hashed,
		Status:       r.status,
		Data:         r.data,
		Err:          r.err,
		Context:      r.context,
		Seq:          r.seq,
	}
}
