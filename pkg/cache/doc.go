// Package cache stores results of successful executions keyed by a structural
// hash of their params.
//
// Hash canonicalises a params value (sorted map keys, sorted struct fields)
// before digesting it, so two equal values always share a key regardless of
// how they were constructed. Store is the pluggable backend: MemoryStore keeps
// results in process with optional expiry, RedisStore shares them between
// processes. A Sweeper purges expired MemoryStore entries on a cron schedule.
//
// Only successful results are ever written; failures are never cached.
package cache
