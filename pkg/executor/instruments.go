package executor

import (
	"time"

	"github.com/vnykmshr/execflow/pkg/execution"
	"github.com/vnykmshr/execflow/pkg/metrics"
)

// instruments records scheduler metrics. A nil registry records nothing.
type instruments struct {
	m    *metrics.Registry
	name string
}

func (i instruments) submitted(outcome string) {
	if i.m == nil {
		return
	}
	i.m.Submissions.WithLabelValues(i.name, outcome).Inc()
	if outcome == outcomeReused {
		i.m.ExhaustRejections.WithLabelValues(i.name).Inc()
	}
}

func (i instruments) transition(status execution.Status) {
	if i.m != nil {
		i.m.Transitions.WithLabelValues(i.name, status.String()).Inc()
	}
}

func (i instruments) occupancy(active, queued int) {
	if i.m == nil {
		return
	}
	i.m.Active.WithLabelValues(i.name).Set(float64(active))
	i.m.Queued.WithLabelValues(i.name).Set(float64(queued))
}

func (i instruments) cacheLookup(hit bool) {
	if i.m == nil {
		return
	}
	if hit {
		i.m.CacheHits.WithLabelValues(i.name).Inc()
	} else {
		i.m.CacheMisses.WithLabelValues(i.name).Inc()
	}
}

func (i instruments) cacheError(operation string) {
	if i.m != nil {
		i.m.CacheErrors.WithLabelValues(i.name, operation).Inc()
	}
}

func (i instruments) invocation(d time.Duration, outcome string) {
	if i.m != nil {
		i.m.InvocationDuration.WithLabelValues(i.name, outcome).Observe(d.Seconds())
	}
}

const (
	outcomeStart     = "start"
	outcomeQueued    = "queued"
	outcomeReused    = "reused"
	outcomeSuccess   = "success"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)
