/*
Package execflow schedules asynchronous invocations under a concurrency
policy and publishes the lifecycle of every execution.

Scheduling (pkg/executor):
  - Switch: the newest submission cancels whatever is running or queued
  - Concat: submissions run one at a time in order
  - Exhaust: submissions made while one is in flight are folded into it
  - Merge: up to N submissions run at once, the rest queue

Supporting packages:
  - execution: per-execution state machine and snapshot stream
  - policy: admission engine and slot accounting behind the four policies
  - cache: structural params hashing, memory and Redis result stores, cron sweeper
  - workerpool: optional bounded pool for invocations
  - config: settings from files and EXECFLOW_* environment variables
  - logging, metrics: zap loggers and Prometheus instruments

Example usage:

	import (
		"github.com/vnykmshr/execflow/pkg/executor"
		"github.com/vnykmshr/execflow/pkg/policy"
	)

	s, _ := executor.New(executor.Fallible(lookup), executor.Config[Query, Result]{
		Policy: policy.Switch,
		Cache:  true,
	})
	defer s.Close()

	h, _ := s.Submit(Query{Term: "go"})
	snap, _ := h.Await(ctx)
*/
package execflow
