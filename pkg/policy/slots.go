package policy

import (
	"sync"

	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
)

// Slots counts processing slots. It never blocks: callers that cannot
// acquire a slot queue the work themselves.
type Slots interface {
	// Acquire takes one slot if one is free.
	Acquire() bool

	// Release returns one slot.
	// It panics if more slots are released than were acquired.
	Release()

	// SetCapacity changes the number of slots. Shrinking below the number in
	// use takes effect as slots are released.
	SetCapacity(capacity int)

	// Capacity returns the number of slots.
	Capacity() int

	// Available returns the number of free slots.
	Available() int

	// InUse returns the number of acquired slots.
	InUse() int
}

type slotCounter struct {
	mu       sync.Mutex
	capacity int
	inUse    int
}

// NewSlots creates a Slots with the given capacity.
func NewSlots(capacity int) (Slots, error) {
	if capacity <= 0 {
		return nil, gferrors.NewValidationError("policy", "capacity", capacity, "capacity must be positive").
			WithHint("capacity determines how many executions may process at once")
	}
	return &slotCounter{capacity: capacity}, nil
}

func (s *slotCounter) Acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUse < s.capacity {
		s.inUse++
		return true
	}
	return false
}

func (s *slotCounter) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUse == 0 {
		panic("policy: released more slots than acquired")
	}
	s.inUse--
}

func (s *slotCounter) SetCapacity(capacity int) {
	if capacity <= 0 {
		panic("policy: capacity must be positive")
	}

	s.mu.Lock()
	s.capacity = capacity
	s.mu.Unlock()
}

func (s *slotCounter) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

func (s *slotCounter) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse >= s.capacity {
		return 0
	}
	return s.capacity - s.inUse
}

func (s *slotCounter) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}
