package cache

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
)

// Purger drops expired entries and reports how many were removed.
// MemoryStore implements it.
type Purger interface {
	Purge() int
}

// Sweeper runs a Purger on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	purger  Purger
	logger  *zap.Logger
	expr    string
	mu      sync.Mutex
	running bool
}

// NewSweeper parses expr and prepares a stopped Sweeper. expr accepts
// standard five-field expressions and descriptors such as "@every 5m" or
// "@hourly". Note that cron does not fire more often than once per second.
func NewSweeper(expr string, purger Purger, logger *zap.Logger) (*Sweeper, error) {
	if purger == nil {
		return nil, gferrors.NewValidationError("cache", "purger", nil, "cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, gferrors.NewValidationError("cache", "sweep", expr, fmt.Sprintf("invalid schedule: %v", err)).
			WithHint(`use a cron expression or a descriptor like "@every 1m"`)
	}

	s := &Sweeper{
		cron:   cron.New(cron.WithParser(parser)),
		purger: purger,
		logger: logger,
		expr:   expr,
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() { s.Sweep() }))
	return s, nil
}

// Sweep purges once, immediately.
func (s *Sweeper) Sweep() int {
	n := s.purger.Purge()
	if n > 0 {
		s.logger.Debug("purged expired cache entries", zap.Int("count", n), zap.String("schedule", s.expr))
	}
	return n
}

// Start begins running on schedule. Calling Start twice has no effect.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
}

// Stop halts the schedule and waits for a sweep in progress to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}
