package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paperdash/paperdash/errors"
)

// mockAgent scripts Invoke behavior per call and counts every lifecycle
// method so tests can assert on the exact guard sequence.
type mockAgent struct {
	mu sync.Mutex

	invoke  func(ctx context.Context, in Input, call int) (*Output, error)
	health  ResourceHealth
	resetOK bool

	invokeCalls  int
	resetCalls   int
	cleanupCalls int
	inputs       []Input
}

func newMockAgent() *mockAgent {
	return &mockAgent{
		health:  ResourceHealth{WorkersHealthy: true, CheckpointStoreHealthy: true},
		resetOK: true,
		invoke: func(ctx context.Context, in Input, call int) (*Output, error) {
			return &Output{Summary: "ok", PapersProcessed: 1}, nil
		},
	}
}

func (m *mockAgent) Invoke(ctx context.Context, in Input) (*Output, error) {
	m.mu.Lock()
	m.invokeCalls++
	call := m.invokeCalls
	m.inputs = append(m.inputs, in)
	fn := m.invoke
	m.mu.Unlock()
	return fn(ctx, in, call)
}

func (m *mockAgent) CheckHealth() ResourceHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

func (m *mockAgent) Reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCalls++
	return m.resetOK
}

func (m *mockAgent) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupCalls++
}

func (m *mockAgent) counts() (invokes, resets, cleanups int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invokeCalls, m.resetCalls, m.cleanupCalls
}

func testGuard(cfg GuardConfig) *Guard {
	return NewGuard(cfg, zap.NewNop().Sugar())
}

func TestGuardInvokeSuccess(t *testing.T) {
	g := testGuard(DefaultGuardConfig())
	m := newMockAgent()

	out, err := g.Invoke(context.Background(), m, Input{TaskID: "t1"})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 1, out.PapersProcessed)

	invokes, resets, cleanups := m.counts()
	assert.Equal(t, 1, invokes)
	assert.Equal(t, 0, resets, "healthy agent is never reset")
	assert.Equal(t, 1, cleanups, "cleanup runs on the success path")
}

func TestGuardCleanupOnFailure(t *testing.T) {
	g := testGuard(DefaultGuardConfig())
	m := newMockAgent()
	m.invoke = func(ctx context.Context, in Input, call int) (*Output, error) {
		return nil, errors.New("domain failure")
	}

	_, err := g.Invoke(context.Background(), m, Input{TaskID: "t1"})
	require.Error(t, err)

	invokes, resets, cleanups := m.counts()
	assert.Equal(t, 1, invokes, "domain failures are not retried")
	assert.Equal(t, 0, resets)
	assert.Equal(t, 1, cleanups, "cleanup runs on the failure path")
}

func TestGuardResourceExhaustionRetry(t *testing.T) {
	g := testGuard(DefaultGuardConfig())
	m := newMockAgent()
	m.invoke = func(ctx context.Context, in Input, call int) (*Output, error) {
		if call == 1 {
			return nil, errors.Wrap(ErrResourceExhausted, "worker pool refused new work")
		}
		return &Output{Summary: "recovered", PapersProcessed: 3}, nil
	}

	out, err := g.Invoke(context.Background(), m, Input{TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out.Summary)

	invokes, resets, cleanups := m.counts()
	assert.Equal(t, 2, invokes, "one original call plus one stateless retry")
	assert.Equal(t, 1, resets, "exactly one forced reset before the retry")
	assert.Equal(t, 1, cleanups, "cleanup still runs exactly once per guarded call")

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.False(t, m.inputs[0].Stateless)
	assert.True(t, m.inputs[1].Stateless, "retry must disable state persistence")
}

func TestGuardResourceExhaustionRetryFails(t *testing.T) {
	g := testGuard(DefaultGuardConfig())
	m := newMockAgent()
	m.invoke = func(ctx context.Context, in Input, call int) (*Output, error) {
		return nil, ErrResourceExhausted
	}

	_, err := g.Invoke(context.Background(), m, Input{TaskID: "t1"})
	require.Error(t, err)
	assert.True(t, IsResourceExhaustion(err))

	invokes, resets, cleanups := m.counts()
	assert.Equal(t, 2, invokes, "retry happens at most once")
	assert.Equal(t, 1, resets)
	assert.Equal(t, 1, cleanups)
}

func TestGuardDegradedPathSkipsRetry(t *testing.T) {
	g := testGuard(DefaultGuardConfig())
	m := newMockAgent()
	m.health = ResourceHealth{WorkersHealthy: true, CheckpointStoreHealthy: false,
		Issues: []string{"checkpoint store corrupt"}}
	m.resetOK = false
	m.invoke = func(ctx context.Context, in Input, call int) (*Output, error) {
		return nil, ErrResourceExhausted
	}

	_, err := g.Invoke(context.Background(), m, Input{TaskID: "t1"})
	require.Error(t, err)

	invokes, resets, _ := m.counts()
	assert.Equal(t, 1, invokes, "already-degraded call gets no second attempt")
	assert.Equal(t, 1, resets, "only the pre-flight reset attempt")

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.True(t, m.inputs[0].Stateless, "failed reset degrades to stateless")
}

func TestGuardUnhealthyResetSucceeds(t *testing.T) {
	g := testGuard(DefaultGuardConfig())
	m := newMockAgent()
	m.health = ResourceHealth{WorkersHealthy: false, CheckpointStoreHealthy: true}

	out, err := g.Invoke(context.Background(), m, Input{TaskID: "t1"})
	require.NoError(t, err)
	require.NotNil(t, out)

	invokes, resets, _ := m.counts()
	assert.Equal(t, 1, invokes)
	assert.Equal(t, 1, resets)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.False(t, m.inputs[0].Stateless, "successful reset keeps state persistence on")
}

func TestGuardTimeoutAbandonsCall(t *testing.T) {
	g := testGuard(GuardConfig{InvokeTimeout: 50 * time.Millisecond})
	m := newMockAgent()

	var observed atomic.Bool
	m.invoke = func(ctx context.Context, in Input, call int) (*Output, error) {
		<-ctx.Done() // hang until the deadline fires
		observed.Store(true)
		return nil, ctx.Err()
	}

	start := time.Now()
	_, err := g.Invoke(context.Background(), m, Input{TaskID: "t1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTimeout))
	assert.Less(t, time.Since(start), 2*time.Second, "caller must not wait for the abandoned goroutine")

	assert.Eventually(t, observed.Load, time.Second, 10*time.Millisecond,
		"abandoned call still observes cancellation")

	_, _, cleanups := m.counts()
	assert.Equal(t, 1, cleanups)
}

func TestGuardCancellationIsNotTimeout(t *testing.T) {
	g := testGuard(DefaultGuardConfig())
	m := newMockAgent()
	m.invoke = func(ctx context.Context, in Input, call int) (*Output, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := g.Invoke(ctx, m, Input{TaskID: "t1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, errors.ErrTimeout))
}

func TestGuardSerializesPerInstance(t *testing.T) {
	g := testGuard(DefaultGuardConfig())
	m := newMockAgent()

	var inFlight, maxInFlight atomic.Int32
	m.invoke = func(ctx context.Context, in Input, call int) (*Output, error) {
		cur := inFlight.Add(1)
		if cur > maxInFlight.Load() {
			maxInFlight.Store(cur)
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return &Output{}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Invoke(context.Background(), m, Input{TaskID: "t"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load(),
		"calls on one agent instance never overlap")
}

func TestGuardDistinctInstancesRunConcurrently(t *testing.T) {
	g := testGuard(DefaultGuardConfig())

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	blocking := func(ctx context.Context, in Input, call int) (*Output, error) {
		started <- struct{}{}
		<-release
		return &Output{}, nil
	}

	a := newMockAgent()
	a.invoke = blocking
	b := newMockAgent()
	b.invoke = blocking

	var wg sync.WaitGroup
	for _, m := range []*mockAgent{a, b} {
		wg.Add(1)
		go func(m *mockAgent) {
			defer wg.Done()
			_, err := g.Invoke(context.Background(), m, Input{TaskID: "t"})
			assert.NoError(t, err)
		}(m)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("second instance blocked behind the first")
		}
	}
	close(release)
	wg.Wait()
}

func TestGuardReleasesInstanceLocks(t *testing.T) {
	g := testGuard(DefaultGuardConfig())

	// One fresh instance per invocation, like the factory-driven
	// execution path: no lock entry may outlive its invocation.
	for i := 0; i < 50; i++ {
		_, err := g.Invoke(context.Background(), newMockAgent(), Input{TaskID: "t"})
		require.NoError(t, err)
	}

	lockCount := func() int {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.locks)
	}
	assert.Equal(t, 0, lockCount(), "per-instance lock entries leaked")

	// Concurrent callers on one instance share one refcounted entry and
	// still drop it once the last one finishes.
	m := newMockAgent()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Invoke(context.Background(), m, Input{TaskID: "t"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, lockCount())
}

func TestHandleCloseIdempotent(t *testing.T) {
	g := testGuard(DefaultGuardConfig())
	m := newMockAgent()

	h := g.Own(m)
	h.Close()
	h.Close()
	h.Close()

	_, _, cleanups := m.counts()
	assert.Equal(t, 1, cleanups, "owning handle releases exactly once")
}

func TestIsResourceExhaustion(t *testing.T) {
	assert.True(t, IsResourceExhaustion(ErrResourceExhausted))
	assert.True(t, IsResourceExhaustion(errors.Wrap(ErrResourceExhausted, "deep in the stack")))
	assert.False(t, IsResourceExhaustion(errors.New("agent resources exhausted")),
		"matching is structural, not textual")
	assert.False(t, IsResourceExhaustion(nil))
}
