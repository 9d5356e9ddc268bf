package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric unless Config.Namespace says otherwise.
const DefaultNamespace = "execflow"

// Registry holds all metric instances for execflow components.
type Registry struct {
	// Scheduler Metrics
	Submissions        *prometheus.CounterVec
	ExhaustRejections  *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	Active             *prometheus.GaugeVec
	Queued             *prometheus.GaugeVec
	InvocationDuration *prometheus.HistogramVec

	// Cache Metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	CacheErrors *prometheus.CounterVec

	// Worker Pool Metrics
	PoolSize           *prometheus.GaugeVec
	PoolActive         *prometheus.GaugeVec
	PoolQueued         *prometheus.GaugeVec
	PoolTasksCompleted *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by execflow components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return newRegistry(reg, DefaultNamespace)
}

// NewRegistryWithConfig creates a registry from config. It returns nil when
// metrics are disabled; components treat a nil Registry as "do not record".
func NewRegistryWithConfig(config Config) *Registry {
	if !config.Enabled {
		return nil
	}
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(config.Labels) > 0 {
		reg = prometheus.WrapRegistererWith(config.Labels, reg)
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return newRegistry(reg, namespace)
}

func newRegistry(reg prometheus.Registerer, namespace string) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		// Scheduler Metrics
		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "submissions_total",
				Help:      "Total number of submissions by admission outcome",
			},
			[]string{"scheduler", "outcome"},
		),

		ExhaustRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "exhaust_reused_total",
				Help:      "Submissions answered with the in-flight execution under EXHAUST",
			},
			[]string{"scheduler"},
		),

		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "transitions_total",
				Help:      "Execution status transitions",
			},
			[]string{"scheduler", "status"},
		),

		Active: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "active",
				Help:      "Executions currently holding a processing slot",
			},
			[]string{"scheduler"},
		),

		Queued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "queued",
				Help:      "Executions waiting for a processing slot",
			},
			[]string{"scheduler"},
		),

		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "invocation_duration_seconds",
				Help:      "Time spent in the invocation function",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"scheduler", "outcome"},
		),

		// Cache Metrics
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Executions completed from the result cache",
			},
			[]string{"scheduler"},
		),

		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Cache lookups that found nothing",
			},
			[]string{"scheduler"},
		),

		CacheErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "errors_total",
				Help:      "Cache store operations that failed",
			},
			[]string{"scheduler", "operation"},
		),

		// Worker Pool Metrics
		PoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "size",
				Help:      "Current worker pool size",
			},
			[]string{"pool_name"},
		),

		PoolActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "active_workers",
				Help:      "Number of active workers",
			},
			[]string{"pool_name"},
		),

		PoolQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "queued_tasks",
				Help:      "Number of queued tasks",
			},
			[]string{"pool_name"},
		),

		PoolTasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_completed_total",
				Help:      "Total number of tasks run by the pool",
			},
			[]string{"pool_name"},
		),
	}
}
