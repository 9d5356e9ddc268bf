package executor

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vnykmshr/execflow/pkg/execution"
	"github.com/vnykmshr/execflow/pkg/logging"
)

// dispatcher returns the listener that fires j's hooks: per-call first,
// then the scheduler defaults. Hook panics propagate to the goroutine
// applying the transition.
func (s *Scheduler[P, D]) dispatcher(j *job[P, D]) execution.Listener[P, D] {
	return func(snap execution.Snapshot[P, D]) {
		s.mu.Lock()
		hooks, hctx := j.hooks, j.context
		s.mu.Unlock()

		s.metrics.transition(snap.Status)
		if ce := s.logger.Check(zap.DebugLevel, "execution transition"); ce != nil {
			ce.Write(
				zap.String(logging.FieldExecutionID, snap.ID),
				zap.Stringer(logging.FieldStatus, snap.Status),
				zap.Uint64("seq", snap.Seq),
			)
		}

		fire(hooks, snap, hctx)
		fire(s.config.Hooks, snap, hctx)
	}
}

func fire[P, D any](h Hooks[P, D], snap execution.Snapshot[P, D], ctx execution.Context) {
	switch snap.Status {
	case execution.StatusWaiting:
		if h.OnWait != nil {
			h.OnWait(snap.Params, ctx)
		}
	case execution.StatusProcessing:
		if h.OnProcessing != nil {
			h.OnProcessing(snap.Params, ctx)
		}
	case execution.StatusSuccess:
		if h.OnSuccess != nil {
			h.OnSuccess(snap.Data, snap.Params, ctx)
		}
	case execution.StatusFailed:
		if h.OnError != nil {
			h.OnError(snap.Err, snap.Params, ctx)
		}
	case execution.StatusCancelled:
		if h.OnCancel != nil {
			h.OnCancel(snap.Params, ctx)
		}
	}
}

type listener[P, D any] struct {
	fn     execution.Listener[P, D]
	active atomic.Bool
}

// Subscribe registers fn for the snapshots of every execution the scheduler
// creates from now on, in the order transitions are applied. Close drops all
// aggregate listeners after delivering the final cancellations.
func (s *Scheduler[P, D]) Subscribe(fn execution.Listener[P, D]) (unsubscribe func()) {
	l := &listener[P, D]{fn: fn}
	l.active.Store(true)

	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	return func() {
		if !l.active.CompareAndSwap(true, false) {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, cur := range s.listeners {
			if cur == l {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				break
			}
		}
	}
}

// forward is subscribed to every record and relays to aggregate listeners.
func (s *Scheduler[P, D]) forward(snap execution.Snapshot[P, D]) {
	s.mu.Lock()
	targets := s.listeners
	s.mu.Unlock()

	for _, l := range targets {
		if l.active.Load() {
			l.fn(snap)
		}
	}
}
