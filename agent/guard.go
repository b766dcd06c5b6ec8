package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/paperdash/paperdash/errors"
)

// DefaultInvokeTimeout is the hard bound on a single agent call
const DefaultInvokeTimeout = 10 * time.Minute

// GuardConfig contains configuration for the lifecycle guard
type GuardConfig struct {
	InvokeTimeout time.Duration // Hard deadline per agent call (default: 10 minutes)
	CallsPerMin   int           // Agent invocation rate limit, 0 disables
}

// DefaultGuardConfig returns sensible defaults
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		InvokeTimeout: DefaultInvokeTimeout,
	}
}

// Guard wraps every agent invocation with deterministic acquisition and
// release of the agent's internal resources. Stateful agents accumulate
// unstable internal state after many calls in a long-lived process;
// without explicit setup/teardown, failures surface far from their root
// cause as "cannot schedule work after shutdown" class errors. The guard
// centralizes that brittleness into one seam.
//
// Invocation state machine:
//
//	Idle -> HealthChecking -> (Resetting)? -> Executing
//	     -> (RetryingWithFallback)? -> CleaningUp -> Idle
//
// Every path reaches CleaningUp exactly once.
type Guard struct {
	timeout time.Duration
	limiter *rate.Limiter // nil when rate limiting is disabled
	logger  *zap.SugaredLogger

	// One lock per agent instance: invocations on the same instance are
	// strictly serialized, different instances proceed concurrently.
	// Entries are refcounted and removed on last release, so the map does
	// not grow with every instance ever guarded.
	mu    sync.Mutex
	locks map[Agent]*instanceLock
}

// instanceLock serializes invocations on one agent instance. refs is
// guarded by the owning Guard's mu.
type instanceLock struct {
	mu   sync.Mutex
	refs int
}

// NewGuard creates a lifecycle guard
func NewGuard(cfg GuardConfig, logger *zap.SugaredLogger) *Guard {
	timeout := cfg.InvokeTimeout
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	var limiter *rate.Limiter
	if cfg.CallsPerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.CallsPerMin)), cfg.CallsPerMin)
	}
	return &Guard{
		timeout: timeout,
		limiter: limiter,
		logger:  logger,
		locks:   make(map[Agent]*instanceLock),
	}
}

// acquire takes the per-instance lock, creating its entry on first use.
func (g *Guard) acquire(a Agent) *instanceLock {
	g.mu.Lock()
	l, ok := g.locks[a]
	if !ok {
		l = &instanceLock{}
		g.locks[a] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return l
}

// release drops the per-instance lock and deletes the entry once no
// invocation holds or waits on it.
func (g *Guard) release(a Agent, l *instanceLock) {
	l.mu.Unlock()

	g.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(g.locks, a)
	}
	g.mu.Unlock()
}

// Invoke runs one guarded agent call. Cleanup runs on every exit path:
// success, failure, timeout, and cancellation.
func (g *Guard) Invoke(ctx context.Context, a Agent, in Input) (out *Output, err error) {
	lock := g.acquire(a)
	defer g.release(a, lock)

	// CleaningUp: always, exactly once, even if the steps below bail early
	defer g.Cleanup(a)

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "cancelled while waiting for agent rate limit")
		}
	}

	// HealthChecking
	degraded := false
	health := a.CheckHealth()
	if !health.Healthy() {
		g.logger.Warnw("Agent unhealthy before invocation, attempting reset",
			"task_id", in.TaskID,
			"workers_healthy", health.WorkersHealthy,
			"checkpoint_store_healthy", health.CheckpointStoreHealthy,
			"issues", health.Issues)

		// Resetting: one attempt; a failed rebuild escalates to the
		// stateless fallback instead of a hard fatal error.
		if !a.Reset() {
			g.logger.Warnw("Agent reset failed, degrading to stateless invocation",
				"task_id", in.TaskID)
			degraded = true
		}
	}

	if degraded {
		in.Stateless = true
	}

	// Executing
	out, err = g.invokeWithTimeout(ctx, a, in)
	if err == nil {
		return out, nil
	}

	// RetryingWithFallback: only for the resource-exhaustion class, only
	// once, after a forced reset, with state persistence disabled.
	if !degraded && IsResourceExhaustion(err) {
		g.logger.Warnw("Agent reported resource exhaustion, retrying stateless after forced reset",
			"task_id", in.TaskID,
			"error", err)

		if !a.Reset() {
			g.logger.Warnw("Forced reset failed before stateless retry",
				"task_id", in.TaskID)
		}
		in.Stateless = true
		out, retryErr := g.invokeWithTimeout(ctx, a, in)
		if retryErr == nil {
			return out, nil
		}
		return nil, errors.Wrap(retryErr, "stateless retry failed after resource exhaustion")
	}

	return nil, err
}

// invokeWithTimeout runs the agent call under the hard deadline. A call
// that never returns is abandoned, not killed: the goroutine keeps
// running until the agent observes cancellation, but the caller gets a
// timeout failure immediately.
func (g *Guard) invokeWithTimeout(ctx context.Context, a Agent, in Input) (*Output, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type invokeResult struct {
		out *Output
		err error
	}
	done := make(chan invokeResult, 1) // buffered so an abandoned call can still send

	go func() {
		out, err := a.Invoke(callCtx, in)
		done <- invokeResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "agent invocation cancelled")
		}
		return nil, errors.Wrapf(errors.ErrTimeout, "agent invocation exceeded %s", g.timeout)
	}
}

// CheckHealth is a non-destructive pass-through. Safe to call while an
// invocation is in flight on a different agent instance; calls on the
// same instance serialize behind the per-instance lock held by Invoke.
func (g *Guard) CheckHealth(a Agent) ResourceHealth {
	return a.CheckHealth()
}

// Reset tears down and rebuilds the agent's internal resources
func (g *Guard) Reset(a Agent) bool {
	ok := a.Reset()
	if !ok {
		g.logger.Warnw("Agent reset failed")
	}
	return ok
}

// Cleanup releases the agent's internal worker pool handle. Idempotent by
// contract on the agent side; the guard adds nothing that could panic on
// a double call.
func (g *Guard) Cleanup(a Agent) {
	a.Cleanup()
}

// Handle is an owning reference to an agent's internal resources.
// Destruction always triggers release: callers defer Close once at
// acquisition, so cleanup runs even when no explicit shutdown path ever
// reached the agent. Close is idempotent.
type Handle struct {
	agent Agent
	guard *Guard
	once  sync.Once
}

// Own returns an owning handle for the agent's resources.
func (g *Guard) Own(a Agent) *Handle {
	return &Handle{agent: a, guard: g}
}

// Close releases the agent's resources exactly once.
func (h *Handle) Close() {
	h.once.Do(func() {
		h.guard.Cleanup(h.agent)
	})
}
