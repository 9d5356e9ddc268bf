package workerpool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
	"github.com/vnykmshr/execflow/pkg/common/validation"
	"github.com/vnykmshr/execflow/pkg/metrics"
)

// Task represents a unit of work that can be executed by a worker.
type Task interface {
	// Execute runs the task with the given context.
	// It should respect context cancellation and return any error encountered.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Result represents the result of a task execution.
type Result struct {
	// Task is the original task that was executed
	Task Task

	// Error is any error that occurred during task execution
	Error error

	// Duration is how long the task took to execute
	Duration time.Duration

	// WorkerID identifies which worker executed the task
	WorkerID int

	// Skipped is set when the task's context was done before a worker
	// reached it; Execute was not called
	Skipped bool
}

// Pool runs tasks on a fixed set of workers.
//
// Submission never blocks: tasks beyond the number of idle workers wait in
// an unbounded FIFO queue. This lets callers submit from code paths that must
// not stall, such as completion handlers of earlier tasks.
type Pool interface {
	// Submit adds a task to the pool for execution with context.Background().
	Submit(task Task) error

	// SubmitWithContext adds a task that will be executed with ctx. A task
	// whose context is done by the time a worker picks it up is skipped.
	SubmitWithContext(ctx context.Context, task Task) error

	// Shutdown stops accepting tasks, lets queued tasks finish and returns a
	// channel that closes once every worker has exited.
	Shutdown() <-chan struct{}

	// Size returns the number of workers in the pool.
	Size() int

	// QueueSize returns the current number of queued tasks waiting for execution.
	QueueSize() int

	// ActiveWorkers returns the number of workers currently executing tasks.
	ActiveWorkers() int

	// TotalSubmitted returns the total number of tasks submitted to the pool.
	TotalSubmitted() int64

	// TotalCompleted returns the total number of tasks completed by the pool.
	TotalCompleted() int64
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// WorkerCount is the number of workers in the pool.
	// Must be greater than 0.
	WorkerCount int

	// Name labels the pool's metrics and log entries.
	Name string

	// TaskTimeout is the default timeout for individual task execution.
	// Zero means no timeout.
	TaskTimeout time.Duration

	// PanicHandler is called when a task panics.
	// If nil, the panic is logged and reported as the task's error.
	PanicHandler func(task Task, recovered interface{})

	// OnTaskComplete is called after a task completes, fails or is skipped.
	OnTaskComplete func(workerID int, result Result)

	// Logger receives pool lifecycle and panic entries. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics records pool gauges when non-nil.
	Metrics *metrics.Registry
}

// taskWithContext pairs a task with the context it runs under.
type taskWithContext struct {
	task Task
	ctx  context.Context
}

// workerPool implements the Pool interface.
type workerPool struct {
	config Config
	logger *zap.Logger

	// Core pool state, guarded by mu
	mu         sync.Mutex
	ready      *sync.Cond
	queue      []taskWithContext
	isShutdown bool
	done       chan struct{}

	// State tracking
	activeWorkers  int
	totalSubmitted int64
	totalCompleted int64

	// Worker management
	workerWg sync.WaitGroup
}

// New creates a new worker pool with the specified number of workers.
func New(workerCount int) Pool {
	return NewWithConfig(Config{WorkerCount: workerCount})
}

// NewWithConfig creates a new worker pool with the specified configuration.
// It panics on invalid configuration; use NewSafe to get an error instead.
func NewWithConfig(config Config) Pool {
	pool, err := NewSafe(config)
	if err != nil {
		panic(err.Error())
	}
	return pool
}

// NewSafe creates a new worker pool, returning a validation error instead of
// panicking on invalid configuration.
func NewSafe(config Config) (Pool, error) {
	if err := validation.ValidatePositive("workerpool", "worker_count", config.WorkerCount); err != nil {
		return nil, err
	}
	if err := validation.ValidateDuration("workerpool", "task_timeout", config.TaskTimeout); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "default"
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := &workerPool{
		config: config,
		logger: logger.With(zap.String("pool", config.Name)),
		done:   make(chan struct{}),
	}
	pool.ready = sync.NewCond(&pool.mu)

	if m := config.Metrics; m != nil {
		m.PoolSize.WithLabelValues(config.Name).Set(float64(config.WorkerCount))
	}

	for i := 0; i < config.WorkerCount; i++ {
		pool.workerWg.Add(1)
		go pool.run(i)
	}
	return pool, nil
}

// errShutdown is returned for submissions after Shutdown.
func errShutdown() error {
	return gferrors.NewOperationError("workerpool", "Submit", gferrors.ErrClosed).
		WithContext("worker pool has been shut down")
}
