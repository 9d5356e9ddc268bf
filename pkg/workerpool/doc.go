/*
Package workerpool provides a fixed-size worker pool with a non-blocking,
unbounded FIFO queue.

Schedulers use a Pool to cap how many invocations run on goroutines at once
while still returning from Submit immediately:

	pool := workerpool.NewWithConfig(workerpool.Config{
		WorkerCount: 8,
		Name:        "invocations",
	})
	defer func() { <-pool.Shutdown() }()

	err := pool.SubmitWithContext(ctx, workerpool.TaskFunc(func(ctx context.Context) error {
		return fetch(ctx, url)
	}))

Submission never waits for a free worker, so a task may submit further tasks
to the same pool without deadlocking. A task whose context is cancelled while
it is still queued is skipped and reported with Result.Skipped.

Completion is observed through Config.OnTaskComplete rather than a results
channel, so nothing has to drain the pool for it to make progress.

Error Handling:

Panics inside Execute are recovered. With a PanicHandler configured the
handler receives the recovered value; otherwise the panic and its stack
trace become Result.Error and are logged.

Metrics:

Set Config.Metrics to record execflow_workerpool_size, active_workers,
queued_tasks and tasks_completed_total, labelled with Config.Name.
*/
package workerpool
