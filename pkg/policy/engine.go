package policy

import (
	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
	"github.com/vnykmshr/execflow/pkg/common/validation"
)

// Decision is the outcome of admitting one item.
type Decision[T comparable] struct {
	// Start is set when the item took a slot and should begin processing.
	Start bool

	// Queued is set when the item waits for a slot.
	Queued bool

	// Cancel lists items displaced by the admission, active ones first.
	// They no longer hold slots or queue positions.
	Cancel []T

	// Reused is set under Exhaust when the item was turned away in favour of
	// InFlight, which is also reported here.
	Reused   bool
	InFlight T
}

// Engine tracks which items are active and which are queued under a policy.
//
// Engine is not safe for concurrent use; the scheduler serializes access.
type Engine[T comparable] struct {
	policy Policy
	slots  Slots
	active []T
	queue  []T
}

// NewEngine creates an Engine. capacity applies to Merge only; every other
// policy runs one item at a time.
func NewEngine[T comparable](p Policy, capacity int) (*Engine[T], error) {
	if p != Merge {
		capacity = 1
	}
	if err := validation.ValidatePositive("policy", "capacity", capacity); err != nil {
		return nil, err
	}
	if p < Switch || p > Merge {
		return nil, gferrors.NewValidationError("policy", "policy", p, "unknown policy")
	}

	slots, err := NewSlots(capacity)
	if err != nil {
		return nil, err
	}
	return &Engine[T]{policy: p, slots: slots}, nil
}

// Policy returns the engine's policy.
func (e *Engine[T]) Policy() Policy { return e.policy }

// Capacity returns how many items may be active at once.
func (e *Engine[T]) Capacity() int { return e.slots.Capacity() }

// InFlight returns the item an Exhaust engine would hand back to a new
// submission. It reports false for other policies or when nothing is active.
func (e *Engine[T]) InFlight() (T, bool) {
	var zero T
	if e.policy != Exhaust || len(e.active) == 0 {
		return zero, false
	}
	return e.active[0], true
}

// Admit registers item and decides what happens to it.
func (e *Engine[T]) Admit(item T) Decision[T] {
	switch e.policy {
	case Exhaust:
		if inflight, ok := e.InFlight(); ok {
			return Decision[T]{Reused: true, InFlight: inflight}
		}

	case Switch:
		var displaced []T
		if len(e.active)+len(e.queue) > 0 {
			displaced = make([]T, 0, len(e.active)+len(e.queue))
			displaced = append(displaced, e.active...)
			displaced = append(displaced, e.queue...)
			for range e.active {
				e.slots.Release()
			}
			e.active = nil
			e.queue = nil
		}
		e.start(item)
		return Decision[T]{Start: true, Cancel: displaced}
	}

	if len(e.queue) == 0 && e.slots.Acquire() {
		e.active = append(e.active, item)
		return Decision[T]{Start: true}
	}
	e.queue = append(e.queue, item)
	return Decision[T]{Queued: true}
}

// Release removes item, whether active or queued, and returns the queued
// items promoted into the freed slot in the order they should start.
// Releasing an unknown item only promotes.
func (e *Engine[T]) Release(item T) []T {
	if i := indexOf(e.active, item); i >= 0 {
		e.active = append(e.active[:i], e.active[i+1:]...)
		e.slots.Release()
	} else if i := indexOf(e.queue, item); i >= 0 {
		e.queue = append(e.queue[:i], e.queue[i+1:]...)
	}
	return e.promote()
}

// SetCapacity resizes a Merge engine and returns any items promoted by
// growth. Shrinking lets active items finish; no item is displaced.
// It panics on non-positive capacity and is a no-op for other policies.
func (e *Engine[T]) SetCapacity(capacity int) []T {
	if capacity <= 0 {
		panic("policy: capacity must be positive")
	}
	if e.policy != Merge {
		return nil
	}
	e.slots.SetCapacity(capacity)
	return e.promote()
}

// Drain removes every item and returns them, active first.
func (e *Engine[T]) Drain() (active, queued []T) {
	active, queued = e.active, e.queue
	for range active {
		e.slots.Release()
	}
	e.active = nil
	e.queue = nil
	return active, queued
}

// Active returns a copy of the active items in start order.
func (e *Engine[T]) Active() []T {
	out := make([]T, len(e.active))
	copy(out, e.active)
	return out
}

// Queued returns a copy of the queued items in arrival order.
func (e *Engine[T]) Queued() []T {
	out := make([]T, len(e.queue))
	copy(out, e.queue)
	return out
}

// Len returns the number of active and queued items.
func (e *Engine[T]) Len() (active, queued int) {
	return len(e.active), len(e.queue)
}

func (e *Engine[T]) start(item T) {
	if !e.slots.Acquire() {
		panic("policy: no slot available for a started item")
	}
	e.active = append(e.active, item)
}

func (e *Engine[T]) promote() []T {
	var promoted []T
	for len(e.queue) > 0 && e.slots.Acquire() {
		next := e.queue[0]
		var zero T
		e.queue[0] = zero
		e.queue = e.queue[1:]
		e.active = append(e.active, next)
		promoted = append(promoted, next)
	}
	return promoted
}

func indexOf[T comparable](items []T, item T) int {
	for i, v := range items {
		if v == item {
			return i
		}
	}
	return -1
}
