package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vnykmshr/execflow/pkg/cache"
	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
	"github.com/vnykmshr/execflow/pkg/common/validation"
	"github.com/vnykmshr/execflow/pkg/execution"
	"github.com/vnykmshr/execflow/pkg/metrics"
	"github.com/vnykmshr/execflow/pkg/policy"
	"github.com/vnykmshr/execflow/pkg/workerpool"
)

// Func is the asynchronous operation a scheduler invokes. It runs on its own
// goroutine (or a pool worker); ctx is cancelled when the execution is
// cancelled or once its result has been recorded.
type Func[P, D any] func(ctx context.Context, params P) (D, error)

// Hooks are lifecycle callbacks. Nil hooks are skipped.
type Hooks[P, D any] struct {
	OnWait       func(params P, ctx execution.Context)
	OnProcessing func(params P, ctx execution.Context)
	OnCancel     func(params P, ctx execution.Context)
	OnSuccess    func(data D, params P, ctx execution.Context)
	OnError      func(err error, params P, ctx execution.Context)
}

func (h Hooks[P, D]) isZero() bool {
	return h.OnWait == nil && h.OnProcessing == nil && h.OnCancel == nil &&
		h.OnSuccess == nil && h.OnError == nil
}

// Override customises a single submission. Zero fields fall back to the
// scheduler's defaults; Context is merged over the default context.
type Override[P, D any] struct {
	Func    Func[P, D]
	Context execution.Context
	Hooks   Hooks[P, D]
}

func (o Override[P, D]) isZero() bool {
	return o.Func == nil && o.Context == nil && o.Hooks.isZero()
}

// Config holds configuration options for creating a Scheduler.
type Config[P, D any] struct {
	// Name labels log entries and metrics. Defaults to "default".
	Name string

	// Mode selects how Status aggregates executions.
	Mode policy.Mode

	// Policy governs admission of new submissions. The zero value is Switch.
	Policy policy.Policy

	// MergeCapacity bounds concurrent processing under Merge. Zero means 1.
	MergeCapacity int

	// Detailed makes executions that start immediately publish WAITING
	// before PROCESSING. Queued executions always publish WAITING.
	Detailed bool

	// Cache enables result caching keyed by the structural hash of params.
	Cache bool

	// CacheTTL bounds how long cached results are served. Zero keeps them
	// until invalidated. Ignored when CacheStore is set.
	CacheTTL time.Duration

	// CacheStore replaces the default in-memory store.
	CacheStore cache.Store[D]

	// CacheSweep is a cron schedule ("@every 5m") for purging expired
	// entries. The store must implement cache.Purger.
	CacheSweep string

	// Hasher computes cache keys. Defaults to cache.Hash.
	Hasher cache.Hasher

	// Context is merged into every execution's hook context.
	Context execution.Context

	// Hooks run after any per-call hooks on every transition.
	Hooks Hooks[P, D]

	// GetID derives an execution ID from params. Random UUIDs are used when nil.
	GetID func(params P) string

	// Logger receives debug entries per transition and warnings about the
	// cache store. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics records scheduler instruments when non-nil.
	Metrics *metrics.Registry

	// Pool runs invocations when set; otherwise each gets its own goroutine.
	// The scheduler does not shut the pool down.
	Pool workerpool.Pool
}

// DefaultConfig returns a configuration with the SWITCH policy, sequential
// mode and no cache.
func DefaultConfig[P, D any]() Config[P, D] {
	return Config[P, D]{
		Name:          "default",
		Mode:          policy.Sequential,
		Policy:        policy.Switch,
		MergeCapacity: 1,
	}
}

// validate checks c and fills in defaults.
func (c Config[P, D]) validate() (Config[P, D], error) {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Mode != policy.Sequential && c.Mode != policy.Concurrent {
		return c, gferrors.NewValidationError("executor", "mode", c.Mode, "unknown mode").
			WithHint("use policy.Sequential or policy.Concurrent")
	}
	if c.Policy < policy.Switch || c.Policy > policy.Merge {
		return c, gferrors.NewValidationError("executor", "policy", c.Policy, "unknown policy").
			WithHint("use policy.Switch, policy.Concat, policy.Exhaust or policy.Merge")
	}
	if err := validation.ValidateNonNegative("executor", "merge_capacity", c.MergeCapacity); err != nil {
		return c, err
	}
	if c.MergeCapacity == 0 {
		c.MergeCapacity = 1
	}
	if err := validation.ValidateDuration("executor", "cache_ttl", c.CacheTTL); err != nil {
		return c, err
	}
	if !c.Cache && (c.CacheStore != nil || c.CacheSweep != "") {
		return c, gferrors.NewValidationError("executor", "cache", c.Cache, "cache store or sweep set while caching is disabled").
			WithHint("set Cache: true")
	}
	if c.Hasher == nil {
		c.Hasher = cache.Hash
	}
	return c, nil
}
