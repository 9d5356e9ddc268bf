package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	gfcontext "github.com/vnykmshr/execflow/pkg/common/context"
	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
	"github.com/vnykmshr/execflow/pkg/execution"
	"github.com/vnykmshr/execflow/pkg/logging"
	"github.com/vnykmshr/execflow/pkg/workerpool"
)

// job is the scheduler's bookkeeping for one execution.
type job[P, D any] struct {
	rec    *execution.Record[P, D]
	handle *Handle[P, D]
	fn     Func[P, D]
	key    string

	// ctx is handed to the invocation; cancel fires on cancellation and
	// once the execution is terminal.
	ctx    context.Context
	cancel context.CancelFunc

	// Guarded by Scheduler.mu. planned is the status the record will have
	// once every queued op has run.
	planned  execution.Status
	hooks    Hooks[P, D]
	context  execution.Context
	override Override[P, D]
}

// newJob allocates a job in StatusNew. Must be called with s.mu held.
func (s *Scheduler[P, D]) newJob(params P, override Override[P, D]) *job[P, D] {
	var id string
	if s.config.GetID != nil {
		id = s.config.GetID(params)
	}
	merged := s.config.Context.Merge(override.Context)

	fn := s.fn
	if override.Func != nil {
		fn = override.Func
	}

	ctx, cancel := context.WithCancel(s.root)
	j := &job[P, D]{
		rec: execution.New[P, D](params, execution.Options{
			ID:           id,
			HashedParams: s.cacheKey(params),
			Context:      merged,
		}),
		fn:       fn,
		ctx:      ctx,
		cancel:   cancel,
		planned:  execution.StatusNew,
		hooks:    override.Hooks,
		context:  merged,
		override: override,
	}
	j.key = j.rec.HashedParams()
	j.handle = &Handle[P, D]{s: s, job: j}

	j.rec.Subscribe(s.dispatcher(j))
	j.rec.Subscribe(s.forward)
	return j
}

func (s *Scheduler[P, D]) cacheKey(params P) string {
	if s.store == nil {
		return ""
	}
	key, err := s.config.Hasher(params)
	if err != nil {
		s.logger.Debug("params not hashable, running uncached", zap.Error(err))
		return ""
	}
	return key
}

// enqueue appends an effect. Must be called with s.mu held.
func (s *Scheduler[P, D]) enqueue(op func()) {
	s.ops = append(s.ops, op)
}

// schedule enqueues op and drains.
func (s *Scheduler[P, D]) schedule(op func()) {
	s.mu.Lock()
	s.enqueue(op)
	s.mu.Unlock()
	s.drain()
}

// drain applies queued ops in order. A call made while another goroutine
// (or an enclosing op) is draining returns at once; the active drainer runs
// the new ops. A panicking op propagates to the caller; the ops behind it
// are handed to a fresh drainer first.
func (s *Scheduler[P, D]) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	finished := false
	defer func() {
		if finished {
			return
		}
		s.mu.Lock()
		s.draining = false
		resume := len(s.ops) > 0
		s.mu.Unlock()
		if resume {
			go s.drain()
		}
	}()

	for {
		s.mu.Lock()
		if len(s.ops) == 0 {
			s.draining = false
			finished = true
			s.mu.Unlock()
			return
		}
		op := s.ops[0]
		s.ops[0] = nil
		s.ops = s.ops[1:]
		s.mu.Unlock()

		op()
	}
}

// The plan* methods record a decision on j.planned and queue the matching
// record transition. They must be called with s.mu held.

func (s *Scheduler[P, D]) planWait(j *job[P, D]) {
	j.planned = execution.StatusWaiting
	s.enqueue(j.rec.Wait)
}

// planStart begins an execution that holds a slot: a cache lookup when the
// execution is cacheable, otherwise processing.
func (s *Scheduler[P, D]) planStart(j *job[P, D]) {
	if j.key != "" {
		if j.planned == execution.StatusNew {
			s.planWait(j)
		}
		s.enqueue(func() { s.spawn(j, s.lookup, func(error) { s.onLookup(j, *new(D), false) }) })
		return
	}
	if s.config.Detailed && j.planned == execution.StatusNew {
		s.planWait(j)
	}
	s.planProcess(j)
}

func (s *Scheduler[P, D]) planProcess(j *job[P, D]) {
	j.planned = execution.StatusProcessing
	s.enqueue(j.rec.Process)
	s.enqueue(func() { s.spawn(j, s.invoke, func(err error) { s.complete(j, *new(D), err) }) })
}

func (s *Scheduler[P, D]) planCancel(j *job[P, D]) {
	if j.planned.IsTerminal() {
		return
	}
	j.planned = execution.StatusCancelled
	j.cancel()
	s.enqueue(j.rec.Cancel)
}

// planFinish queues a terminal transition and promotes queued executions
// into the freed slot.
func (s *Scheduler[P, D]) planFinish(j *job[P, D], status execution.Status, transition func()) {
	j.planned = status
	j.cancel()
	s.enqueue(transition)
	for _, next := range s.engine.Release(j) {
		s.planStart(next)
	}
}

// observe publishes occupancy gauges. Must be called with s.mu held.
func (s *Scheduler[P, D]) observe() {
	s.metrics.occupancy(s.engine.Len())
}

// cancel handles Handle.Cancel.
func (s *Scheduler[P, D]) cancel(j *job[P, D]) bool {
	s.mu.Lock()
	if j.planned.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	s.planCancel(j)
	for _, next := range s.engine.Release(j) {
		s.planStart(next)
	}
	s.observe()
	s.mu.Unlock()

	s.drain()
	return true
}

// spawn runs work for j on the pool or a new goroutine. The report work
// returns applies the result to the control loop; on a pool it runs on its
// own goroutine so hooks never execute under the pool's panic recovery.
// rejected is called when the pool refuses the task.
func (s *Scheduler[P, D]) spawn(j *job[P, D], work func(*job[P, D]) func(), rejected func(error)) {
	pool := s.config.Pool
	if pool == nil {
		go func() { work(j)() }()
		return
	}
	err := pool.SubmitWithContext(j.ctx, workerpool.TaskFunc(func(context.Context) error {
		go work(j)()
		return nil
	}))
	if err != nil {
		rejected(err)
	}
}

// lookup consults the cache for j off the control loop.
func (s *Scheduler[P, D]) lookup(j *job[P, D]) (report func()) {
	data, hit, err := s.store.Get(j.ctx, j.key)
	if err != nil {
		hit = false
		if !gfcontext.IsCanceled(j.ctx) {
			s.metrics.cacheError("get")
			s.logger.Warn("cache lookup failed, invoking instead",
				zap.String(logging.FieldExecutionID, j.rec.ID()),
				zap.String(logging.FieldCacheKey, j.key),
				zap.Error(err))
		}
	}
	return func() { s.onLookup(j, data, hit) }
}

func (s *Scheduler[P, D]) onLookup(j *job[P, D], data D, hit bool) {
	s.mu.Lock()
	if j.planned != execution.StatusWaiting {
		// cancelled while the lookup ran
		s.mu.Unlock()
		return
	}
	s.metrics.cacheLookup(hit)
	if hit {
		s.planFinish(j, execution.StatusSuccess, func() { j.rec.Restore(data) })
	} else {
		s.planProcess(j)
	}
	s.observe()
	s.mu.Unlock()

	s.drain()
}

// invoke runs the invocation function for j.
func (s *Scheduler[P, D]) invoke(j *job[P, D]) (report func()) {
	start := time.Now()
	data, err := call(j.ctx, j.fn, j.rec.Params())
	elapsed := time.Since(start)

	if err == nil && j.key != "" && j.ctx.Err() == nil {
		if serr := s.store.Set(s.root, j.key, data); serr != nil {
			s.metrics.cacheError("set")
			s.logger.Warn("cache write failed",
				zap.String(logging.FieldExecutionID, j.rec.ID()),
				zap.String(logging.FieldCacheKey, j.key),
				zap.Error(serr))
		}
	}

	return func() {
		outcome := outcomeSuccess
		if err != nil {
			outcome = outcomeError
		}
		if !s.complete(j, data, err) {
			outcome = outcomeCancelled
		}
		s.metrics.invocation(elapsed, outcome)
	}
}

// complete records an invocation result. It reports false when the
// execution was no longer processing and the result was discarded.
func (s *Scheduler[P, D]) complete(j *job[P, D], data D, err error) bool {
	s.mu.Lock()
	if j.planned != execution.StatusProcessing {
		s.mu.Unlock()
		s.logger.Debug("discarding result of cancelled execution",
			zap.String(logging.FieldExecutionID, j.rec.ID()))
		return false
	}
	if err != nil {
		s.planFinish(j, execution.StatusFailed, func() { j.rec.Fail(err) })
		s.failed.add(j)
	} else {
		s.planFinish(j, execution.StatusSuccess, func() { j.rec.Succeed(data) })
	}
	s.observe()
	s.mu.Unlock()

	s.drain()
	return true
}

// call invokes fn, converting a panic into ErrInvocationPanic.
func call[P, D any](ctx context.Context, fn Func[P, D], params P) (data D, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero D
			data = zero
			err = fmt.Errorf("%w: %v", gferrors.ErrInvocationPanic, r)
		}
	}()
	return fn(ctx, params)
}

// retainedFailures bounds how many failed executions Retry can find.
const retainedFailures = 256

// failures indexes failed executions by ID, keeping the latest per ID and
// evicting the oldest beyond a limit. Guarded by Scheduler.mu.
type failures[P, D any] struct {
	limit int
	byID  map[string]*job[P, D]
	order []*job[P, D]
}

func newFailures[P, D any](limit int) *failures[P, D] {
	return &failures[P, D]{limit: limit, byID: make(map[string]*job[P, D])}
}

func (f *failures[P, D]) add(j *job[P, D]) {
	f.byID[j.rec.ID()] = j
	f.order = append(f.order, j)
	for len(f.byID) > f.limit && len(f.order) > 0 {
		oldest := f.order[0]
		f.order[0] = nil
		f.order = f.order[1:]
		if f.byID[oldest.rec.ID()] == oldest {
			delete(f.byID, oldest.rec.ID())
		}
	}
	if len(f.order) > 2*f.limit {
		f.compact()
	}
}

func (f *failures[P, D]) take(id string) (*job[P, D], bool) {
	j, ok := f.byID[id]
	if ok {
		delete(f.byID, id)
	}
	return j, ok
}

func (f *failures[P, D]) reset() {
	f.byID = make(map[string]*job[P, D])
	f.order = nil
}

// compact drops order entries that no longer index a retained failure.
func (f *failures[P, D]) compact() {
	kept := f.order[:0]
	for _, j := range f.order {
		if f.byID[j.rec.ID()] == j {
			kept = append(kept, j)
		}
	}
	for i := len(kept); i < len(f.order); i++ {
		f.order[i] = nil
	}
	f.order = kept
}
