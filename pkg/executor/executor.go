package executor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vnykmshr/execflow/pkg/cache"
	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
	"github.com/vnykmshr/execflow/pkg/common/validation"
	"github.com/vnykmshr/execflow/pkg/execution"
	"github.com/vnykmshr/execflow/pkg/logging"
	"github.com/vnykmshr/execflow/pkg/policy"
)

// Scheduler admits submissions under a policy, invokes the configured
// function for admitted ones and publishes every execution's lifecycle.
// It is safe for concurrent use.
type Scheduler[P, D any] struct {
	fn      Func[P, D]
	config  Config[P, D]
	logger  *zap.Logger
	metrics instruments
	store   cache.Store[D]
	sweeper *cache.Sweeper

	root context.Context
	stop context.CancelFunc

	mu        sync.Mutex
	closed    bool
	engine    *policy.Engine[*job[P, D]]
	latest    *job[P, D]
	failed    *failures[P, D]
	listeners []*listener[P, D]

	// ops are effects decided under mu, applied in order by one goroutine
	// at a time outside mu.
	ops      []func()
	draining bool
}

// New creates a Scheduler bound to fn.
func New[P, D any](fn Func[P, D], config Config[P, D]) (*Scheduler[P, D], error) {
	if fn == nil {
		return nil, gferrors.NewValidationError("executor", "func", nil, "cannot be nil").
			WithHint("pass the operation to invoke, e.g. executor.Fallible(fetch)")
	}
	cfg, err := config.validate()
	if err != nil {
		return nil, err
	}

	engine, err := policy.NewEngine[*job[P, D]](cfg.Policy, cfg.MergeCapacity)
	if err != nil {
		return nil, err
	}

	logger := logging.OrNop(cfg.Logger).With(
		zap.String(logging.FieldScheduler, cfg.Name),
		zap.Stringer(logging.FieldPolicy, cfg.Policy),
	)

	s := &Scheduler[P, D]{
		fn:      fn,
		config:  cfg,
		logger:  logger,
		metrics: instruments{m: cfg.Metrics, name: cfg.Name},
		engine:  engine,
		failed:  newFailures[P, D](retainedFailures),
	}

	if cfg.Cache {
		s.store = cfg.CacheStore
		if s.store == nil {
			s.store = cache.NewMemoryStore[D](cache.MemoryOptions{TTL: cfg.CacheTTL})
		}
		if cfg.CacheSweep != "" {
			purger, ok := s.store.(cache.Purger)
			if !ok {
				return nil, gferrors.NewValidationError("executor", "cache_sweep", cfg.CacheSweep, "store does not support purging").
					WithHint("use the in-memory store or drop CacheSweep")
			}
			sweeper, err := cache.NewSweeper(cfg.CacheSweep, purger, logger)
			if err != nil {
				return nil, err
			}
			s.sweeper = sweeper
		}
	}

	s.root, s.stop = context.WithCancel(context.Background())
	if s.sweeper != nil {
		s.sweeper.Start()
	}

	logger.Debug("scheduler created",
		zap.Stringer(logging.FieldMode, cfg.Mode),
		zap.Int("merge_capacity", cfg.MergeCapacity),
		zap.Bool("cache", cfg.Cache),
	)
	return s, nil
}

// MustNew is like New but panics on invalid configuration.
func MustNew[P, D any](fn Func[P, D], config Config[P, D]) *Scheduler[P, D] {
	s, err := New(fn, config)
	if err != nil {
		panic(err)
	}
	return s
}

// Submit is SubmitWith without an override.
func (s *Scheduler[P, D]) Submit(params P) (*Handle[P, D], error) {
	return s.SubmitWith(params, Override[P, D]{})
}

// SubmitWith submits params and returns without waiting for the invocation.
// The only error is ErrClosed after Close.
//
// The first transition is normally published before SubmitWith returns.
// When another goroutine is draining the control loop (or the call comes from
// a hook), it is queued behind that work and the handle reports StatusNew
// until it is applied.
//
// Under EXHAUST, a submission made while another execution is in flight
// returns that execution's handle and allocates nothing; a non-zero override
// replaces the in-flight execution's per-call hooks and context for its
// remaining transitions.
func (s *Scheduler[P, D]) SubmitWith(params P, override Override[P, D]) (*Handle[P, D], error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, gferrors.NewOperationError("executor", "Submit", gferrors.ErrClosed).WithContext(s.config.Name)
	}

	if inflight, ok := s.engine.InFlight(); ok {
		if !override.isZero() {
			inflight.hooks = override.Hooks
			inflight.context = s.config.Context.Merge(override.Context)
		}
		s.metrics.submitted(outcomeReused)
		s.mu.Unlock()

		s.logger.Debug("submission folded into in-flight execution",
			zap.String(logging.FieldExecutionID, inflight.rec.ID()))
		return inflight.handle, nil
	}

	j := s.newJob(params, override)
	decision := s.engine.Admit(j)
	for _, displaced := range decision.Cancel {
		s.planCancel(displaced)
	}
	switch {
	case decision.Start:
		s.planStart(j)
		s.metrics.submitted(outcomeStart)
	case decision.Queued:
		s.planWait(j)
		s.metrics.submitted(outcomeQueued)
	}
	s.latest = j
	s.observe()
	s.mu.Unlock()

	s.drain()
	return j.handle, nil
}

// Retry resubmits the params of the latest FAILED execution with id. The
// last override given wins; without one the original override is reused.
// It returns ErrNotFound when no such failure is retained.
func (s *Scheduler[P, D]) Retry(id string, overrides ...Override[P, D]) (*Handle[P, D], error) {
	s.mu.Lock()
	j, ok := s.failed.take(id)
	s.mu.Unlock()
	if !ok {
		return nil, gferrors.NewOperationError("executor", "Retry", gferrors.ErrNotFound).WithContext(id)
	}

	override := j.override
	if n := len(overrides); n > 0 {
		override = overrides[n-1]
	}
	return s.SubmitWith(j.rec.Params(), override)
}

// Invalidate drops the cached result for params. It is a no-op when caching
// is disabled.
func (s *Scheduler[P, D]) Invalidate(ctx context.Context, params P) error {
	if s.store == nil {
		return nil
	}
	key, err := s.config.Hasher(params)
	if err != nil {
		return gferrors.NewOperationError("executor", "Invalidate", err)
	}
	if err := s.store.Delete(ctx, key); err != nil {
		s.metrics.cacheError("delete")
		return err
	}
	return nil
}

// ClearCache drops every cached result. It is a no-op when caching is disabled.
func (s *Scheduler[P, D]) ClearCache(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Clear(ctx); err != nil {
		s.metrics.cacheError("clear")
		return err
	}
	return nil
}

// Status aggregates execution statuses. In sequential mode it is the status
// of the latest submission. In concurrent mode it is PROCESSING while any
// tracked execution processes, WAITING while executions are tracked but none
// processes, and otherwise the latest submission's status. StatusNew means
// nothing was submitted yet.
func (s *Scheduler[P, D]) Status() execution.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Mode == policy.Concurrent {
		active, queued := s.engine.Len()
		for _, j := range s.engine.Active() {
			if j.rec.Status() == execution.StatusProcessing {
				return execution.StatusProcessing
			}
		}
		if active+queued > 0 {
			return execution.StatusWaiting
		}
	}
	if s.latest == nil {
		return execution.StatusNew
	}
	return s.latest.rec.Status()
}

// IsProcessing reports whether Status is PROCESSING.
func (s *Scheduler[P, D]) IsProcessing() bool { return s.Status() == execution.StatusProcessing }

// IsSuccess reports whether Status is SUCCESS.
func (s *Scheduler[P, D]) IsSuccess() bool { return s.Status() == execution.StatusSuccess }

// IsError reports whether Status is FAILED.
func (s *Scheduler[P, D]) IsError() bool { return s.Status() == execution.StatusFailed }

// Active returns the number of executions holding a processing slot.
func (s *Scheduler[P, D]) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	active, _ := s.engine.Len()
	return active
}

// Queued returns the number of executions waiting for a slot.
func (s *Scheduler[P, D]) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, queued := s.engine.Len()
	return queued
}

// SetMergeCapacity resizes a MERGE scheduler. Growing promotes queued
// executions at once; shrinking lets running ones finish.
func (s *Scheduler[P, D]) SetMergeCapacity(capacity int) error {
	if err := validation.ValidatePositive("executor", "merge_capacity", capacity); err != nil {
		return err
	}
	if s.config.Policy != policy.Merge {
		return gferrors.NewValidationError("executor", "policy", s.config.Policy, "capacity applies to MERGE only")
	}

	s.mu.Lock()
	for _, next := range s.engine.SetCapacity(capacity) {
		s.planStart(next)
	}
	s.observe()
	s.mu.Unlock()

	s.drain()
	return nil
}

// Close cancels every execution that is not terminal, stops the cache
// sweeper and rejects further submissions. Aggregate listeners receive the
// cancellations and are then dropped. Close is idempotent.
func (s *Scheduler[P, D]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	active, queued := s.engine.Drain()
	for _, j := range active {
		s.planCancel(j)
	}
	for _, j := range queued {
		s.planCancel(j)
	}
	s.failed.reset()
	s.observe()
	s.enqueue(func() {
		s.mu.Lock()
		s.listeners = nil
		s.mu.Unlock()
	})
	s.mu.Unlock()

	s.drain()

	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	s.stop()

	s.logger.Info("scheduler closed", zap.Int(logging.FieldCancelled, len(active)+len(queued)))
	return nil
}
