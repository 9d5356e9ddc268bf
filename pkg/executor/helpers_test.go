package executor

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/execflow/internal/testutil"
	"github.com/vnykmshr/execflow/pkg/execution"
)

const waitFor = 2 * time.Second

// gate blocks invocations per params until released.
type gate struct {
	mu    sync.Mutex
	chans map[int]chan struct{}
	calls atomic.Int32

	// aborted receives the params of invocations whose context was cancelled.
	aborted chan int
}

func newGate() *gate {
	return &gate{chans: make(map[int]chan struct{}), aborted: make(chan int, 64)}
}

func (g *gate) ch(p int) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.chans[p]
	if !ok {
		c = make(chan struct{})
		g.chans[p] = c
	}
	return c
}

func (g *gate) release(p int) { close(g.ch(p)) }

// double is a Func returning params*2 once p is released.
func (g *gate) double(ctx context.Context, p int) (int, error) {
	g.calls.Add(1)
	select {
	case <-g.ch(p):
		return p * 2, nil
	case <-ctx.Done():
		g.aborted <- p
		return 0, ctx.Err()
	}
}

func (g *gate) expectAborted(t *testing.T, want int) {
	t.Helper()
	select {
	case got := <-g.aborted:
		require.Equal(t, want, got)
	case <-time.After(waitFor):
		t.Fatalf("invocation for %d was never cancelled", want)
	}
}

func newScheduler[P, D any](t *testing.T, fn Func[P, D], cfg Config[P, D]) *Scheduler[P, D] {
	t.Helper()
	s, err := New(fn, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func submit[P, D any](t *testing.T, s *Scheduler[P, D], params P) *Handle[P, D] {
	t.Helper()
	h, err := s.Submit(params)
	require.NoError(t, err)
	return h
}

func await[P, D any](t *testing.T, h *Handle[P, D]) execution.Snapshot[P, D] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	snap, err := h.Await(ctx)
	require.NoError(t, err)
	return snap
}

func eventuallyStatus[P, D any](t *testing.T, h *Handle[P, D], want execution.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Status() == want }, waitFor, time.Millisecond,
		"execution %s never reached %s (last %s)", h.ID(), want, h.Status())
}

// watch records every snapshot the scheduler publishes.
func watch[P, D any](s *Scheduler[P, D]) *testutil.Recorder[execution.Snapshot[P, D]] {
	rec := testutil.NewRecorder[execution.Snapshot[P, D]]()
	s.Subscribe(rec.Add)
	return rec
}

// statusesOf filters the statuses recorded for one execution.
func statusesOf[P, D any](rec *testutil.Recorder[execution.Snapshot[P, D]], id string) []execution.Status {
	var out []execution.Status
	for _, snap := range rec.Values() {
		if snap.ID == id {
			out = append(out, snap.Status)
		}
	}
	return out
}

// eventuallyStatuses waits until the execution's recorded statuses equal want.
func eventuallyStatuses[P, D any](t *testing.T, rec *testutil.Recorder[execution.Snapshot[P, D]], id string, want ...execution.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return slices.Equal(statusesOf(rec, id), want)
	}, waitFor, time.Millisecond, "statuses of %s never became %v", id, want)
}

// history records the statuses a handle publishes.
func history[P, D any](h *Handle[P, D]) func() []execution.Status {
	var (
		mu  sync.Mutex
		got []execution.Status
	)
	h.Subscribe(func(s execution.Snapshot[P, D]) {
		mu.Lock()
		got = append(got, s.Status)
		mu.Unlock()
	})
	return func() []execution.Status {
		mu.Lock()
		defer mu.Unlock()
		return append([]execution.Status(nil), got...)
	}
}
