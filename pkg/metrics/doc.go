// Package metrics provides Prometheus instrumentation for execflow components.
//
// # Overview
//
// A Registry bundles the metric vectors recorded by schedulers, their result
// caches and worker pools. Components take a *Registry in their config and
// record nothing when it is nil.
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewRegistry(reg)
//
//	s, err := executor.New(search, executor.Config[Query, []Hit]{
//		Name:    "search",
//		Metrics: m,
//	})
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # Available Metrics
//
// ## Scheduler Metrics
//
//   - execflow_scheduler_submissions_total: submissions by outcome (start, queued, reused)
//   - execflow_scheduler_exhaust_reused_total: submissions absorbed by an in-flight EXHAUST execution
//   - execflow_scheduler_transitions_total: status transitions by target status
//   - execflow_scheduler_active: executions holding a processing slot
//   - execflow_scheduler_queued: executions waiting for a slot
//   - execflow_scheduler_invocation_duration_seconds: invocation time by outcome (success, error, cancelled)
//
// ## Cache Metrics
//
//   - execflow_cache_hits_total, execflow_cache_misses_total
//   - execflow_cache_errors_total: store failures by operation (get, set, delete, clear)
//
// ## Worker Pool Metrics
//
//   - execflow_workerpool_size, execflow_workerpool_active_workers
//   - execflow_workerpool_queued_tasks, execflow_workerpool_tasks_completed_total
//
// # Labels
//
//   - scheduler: Config.Name of the scheduler
//   - pool_name: name given to the worker pool
//
// Config.Labels adds constant labels to every metric and Config.Namespace
// replaces the "execflow" prefix.
package metrics
