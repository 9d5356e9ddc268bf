package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
)

// Submit adds a task to the pool for execution.
// The task will be executed with context.Background().
// Use SubmitWithContext to provide a custom context.
func (p *workerPool) Submit(task Task) error {
	return p.SubmitWithContext(context.Background(), task)
}

// SubmitWithContext adds a task to the pool for execution with the given context.
// If the pool has a TaskTimeout configured, the effective timeout is the
// minimum of the context deadline and TaskTimeout.
func (p *workerPool) SubmitWithContext(ctx context.Context, task Task) error {
	if task == nil {
		return gferrors.NewValidationError("workerpool", "task", nil, "cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// A pre-canceled context is rejected up front so the caller sees it.
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.isShutdown {
		p.mu.Unlock()
		return errShutdown()
	}
	p.queue = append(p.queue, taskWithContext{task: task, ctx: ctx})
	p.totalSubmitted++
	p.observe()
	p.mu.Unlock()

	p.ready.Signal()
	return nil
}

// Shutdown initiates a graceful shutdown of the pool.
func (p *workerPool) Shutdown() <-chan struct{} {
	p.mu.Lock()
	if !p.isShutdown {
		p.isShutdown = true
		go func() {
			p.workerWg.Wait()
			p.logger.Debug("worker pool stopped")
			close(p.done)
		}()
	}
	p.mu.Unlock()

	p.ready.Broadcast()
	return p.done
}

// Size returns the number of workers in the pool.
func (p *workerPool) Size() int {
	return p.config.WorkerCount
}

// QueueSize returns the current number of queued tasks waiting for execution.
func (p *workerPool) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (p *workerPool) ActiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeWorkers
}

// TotalSubmitted returns the total number of tasks submitted to the pool.
func (p *workerPool) TotalSubmitted() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalSubmitted
}

// TotalCompleted returns the total number of tasks completed by the pool.
func (p *workerPool) TotalCompleted() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalCompleted
}

// run is the main loop for a worker. It exits once the pool is shut down
// and the queue is empty.
func (p *workerPool) run(id int) {
	defer p.workerWg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.isShutdown {
			p.ready.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		twc := p.queue[0]
		p.queue[0] = taskWithContext{}
		p.queue = p.queue[1:]
		p.activeWorkers++
		p.observe()
		p.mu.Unlock()

		result := p.executeTask(id, twc)

		p.mu.Lock()
		p.activeWorkers--
		p.totalCompleted++
		p.observe()
		p.mu.Unlock()

		if m := p.config.Metrics; m != nil {
			m.PoolTasksCompleted.WithLabelValues(p.config.Name).Inc()
		}
		if p.config.OnTaskComplete != nil {
			p.config.OnTaskComplete(id, result)
		}
	}
}

// executeTask executes a single task with the provided context.
func (p *workerPool) executeTask(workerID int, twc taskWithContext) (result Result) {
	result = Result{Task: twc.task, WorkerID: workerID}

	if err := twc.ctx.Err(); err != nil {
		result.Error = err
		result.Skipped = true
		return result
	}

	start := time.Now()

	// Handle panics during task execution
	defer func() {
		if r := recover(); r != nil {
			if p.config.PanicHandler != nil {
				p.config.PanicHandler(twc.task, r)
			} else {
				result.Error = fmt.Errorf("task panicked: %v\nStack trace:\n%s", r, debug.Stack())
				p.logger.Error("task panicked", zap.Int("worker", workerID), zap.Any("panic", r))
			}
		}
		result.Duration = time.Since(start)
	}()

	ctx := twc.ctx
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	result.Error = twc.task.Execute(ctx)
	return result
}

// observe publishes the pool gauges. Must be called with p.mu held.
func (p *workerPool) observe() {
	if m := p.config.Metrics; m != nil {
		m.PoolActive.WithLabelValues(p.config.Name).Set(float64(p.activeWorkers))
		m.PoolQueued.WithLabelValues(p.config.Name).Set(float64(len(p.queue)))
	}
}
