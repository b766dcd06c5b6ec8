// Package engine provides the task orchestrator: the façade the boundary
// layer submits job configurations to. It owns the periodic scheduler and
// the worker pool, routes immediate vs recurring work between them, and
// maintains task results across every execution path.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paperdash/paperdash/agent"
	"github.com/paperdash/paperdash/errors"
	"github.com/paperdash/paperdash/schedule"
	"github.com/paperdash/paperdash/task"
	"github.com/paperdash/paperdash/worker"
)

// Config aggregates the engine's child component configuration
type Config struct {
	Pool          worker.PoolConfig
	Scheduler     schedule.SchedulerConfig
	Guard         agent.GuardConfig
	RetentionDays int // Terminal-result retention in history; 0 disables cleanup
}

// DefaultConfig returns sensible defaults for all children
func DefaultConfig() Config {
	return Config{
		Pool:          worker.DefaultPoolConfig(),
		Scheduler:     schedule.DefaultSchedulerConfig(),
		Guard:         agent.DefaultGuardConfig(),
		RetentionDays: 30,
	}
}

// AgentFactory produces one analysis agent instance per invocation. The
// guard serializes invocations per instance, so handing every execution
// its own instance is what lets the pool's slots run in parallel.
type AgentFactory func() agent.Agent

// retentionJobName is reserved for the internal history cleanup job
const retentionJobName = "engine.history-retention"

// Orchestrator accepts job configurations, decides immediate-vs-recurring
// routing, and owns the scheduler and the worker pool as children.
type Orchestrator struct {
	cfg       Config
	registry  *task.Registry
	history   *task.Store // may be nil when running without persistence
	pool      *worker.Pool
	scheduler *schedule.Scheduler
	guard     *agent.Guard
	newAgent  AgentFactory
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	handles map[string]*worker.Handle // task id -> pool handle, immediate mode only

	stopOnce sync.Once
}

// New creates an orchestrator and its children. history may be nil.
// Call Start() to begin processing and Shutdown() exactly once on exit.
func New(ctx context.Context, cfg Config, registry *task.Registry, history *task.Store, newAgent AgentFactory, logger *zap.SugaredLogger) *Orchestrator {
	log := logger.Named("engine")
	pool := worker.NewPool(ctx, cfg.Pool, logger)
	o := &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		history:   history,
		pool:      pool,
		scheduler: schedule.NewScheduler(ctx, cfg.Scheduler, pool, logger),
		guard:     agent.NewGuard(cfg.Guard, log),
		newAgent:  newAgent,
		logger:    log,
		handles:   make(map[string]*worker.Handle),
	}
	return o
}

// Start brings up the pool and the scheduler, and registers the internal
// history retention job when persistence is configured.
func (o *Orchestrator) Start() {
	o.pool.Start()
	o.scheduler.Start()

	if o.history != nil && o.cfg.RetentionDays > 0 {
		retention := time.Duration(o.cfg.RetentionDays) * 24 * time.Hour
		err := o.scheduler.Register(&schedule.Job{
			Name:            retentionJobName,
			IntervalSeconds: int((6 * time.Hour).Seconds()),
			Run: func(ctx context.Context) {
				n, err := o.history.DeleteOlderThan(retention)
				if err != nil {
					o.logger.Warnw("History retention cleanup failed", "error", err)
					return
				}
				if n > 0 {
					o.logger.Infow("History retention cleanup", "deleted", n)
				}
			},
		})
		if err != nil {
			o.logger.Warnw("Failed to register history retention job", "error", err)
		}
	}

	o.logger.Infow("Orchestrator started")
}

// SubmitImmediate validates the config and hands it to the worker pool.
// Returns the task id for status polling. Validation and saturation
// errors are synchronous and leave no task result behind.
func (o *Orchestrator) SubmitImmediate(cfg task.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	res := task.NewResult(cfg, task.ModeImmediate)
	if err := o.registry.Add(res); err != nil {
		return "", err
	}

	h, err := o.pool.Submit(res.ID, func(ctx context.Context) {
		o.execute(ctx, res.ID, cfg)
		o.mu.Lock()
		delete(o.handles, res.ID)
		o.mu.Unlock()
	})
	if err != nil {
		// Rejected submissions never produce a task result
		o.registry.Remove(res.ID)
		return "", err
	}

	o.mu.Lock()
	o.handles[res.ID] = h
	o.mu.Unlock()

	o.logger.Infow("Accepted immediate task",
		"task_id", res.ID,
		"name", cfg.Name,
		"kind", cfg.Kind)
	return res.ID, nil
}

// SubmitScheduled validates the config and registers a recurring job.
// The returned task id refers to the pending result consumed by the
// first invocation; later invocations create fresh results.
func (o *Orchestrator) SubmitScheduled(cfg task.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if cfg.IntervalSeconds <= 0 {
		return "", errors.NewInvalidConfigError("scheduled task %q requires interval_seconds > 0", cfg.Name)
	}
	if cfg.Name == retentionJobName {
		return "", errors.NewInvalidConfigError("task name %q is reserved", cfg.Name)
	}

	res := task.NewResult(cfg, task.ModeScheduled)
	if err := o.registry.Add(res); err != nil {
		return "", err
	}

	// Invocations of one job are serialized by the scheduler's overlap
	// guard, so the closure state needs no lock.
	pendingID := res.ID
	job := &schedule.Job{
		Name:            cfg.Name,
		IntervalSeconds: cfg.IntervalSeconds,
		Run: func(ctx context.Context) {
			id := pendingID
			if id == "" {
				next := task.NewResult(cfg, task.ModeScheduled)
				if err := o.registry.Add(next); err != nil {
					o.logger.Errorw("Failed to create result for scheduled invocation",
						"job", cfg.Name, "error", err)
					return
				}
				id = next.ID
			}
			pendingID = ""
			o.execute(ctx, id, cfg)
		},
	}

	if err := o.scheduler.Register(job); err != nil {
		o.registry.Remove(res.ID)
		return "", err
	}

	o.logger.Infow("Accepted scheduled task",
		"task_id", res.ID,
		"name", cfg.Name,
		"interval_seconds", cfg.IntervalSeconds)
	return res.ID, nil
}

// execute runs one guarded agent invocation and drives the result through
// its lifecycle. Every failure inside is converted into a terminal state;
// nothing propagates to the pool slot or the scheduler loop.
func (o *Orchestrator) execute(ctx context.Context, id string, cfg task.Config) {
	// Abandoned before start: queued body drained at shutdown or
	// cancelled while still pending.
	if ctx.Err() != nil {
		o.transition(id, func(r *task.Result) error { return r.Stop("abandoned before execution") })
		return
	}

	if err := o.transition(id, func(r *task.Result) error { return r.Start() }); err != nil {
		o.logger.Errorw("Failed to start task", "task_id", id, "error", err)
		return
	}

	a := o.newAgent()
	handle := o.guard.Own(a)
	defer handle.Close()

	in := agent.Input{
		TaskID:    id,
		Config:    cfg,
		Stateless: cfg.Stateless,
		Progress: func(p float64) {
			o.transition(id, func(r *task.Result) error {
				r.SetProgress(p)
				return nil
			})
		},
	}

	out, err := o.guard.Invoke(ctx, a, in)
	if err != nil {
		if ctx.Err() != nil {
			o.transition(id, func(r *task.Result) error { return r.Stop("cancelled during execution") })
			return
		}
		o.transition(id, func(r *task.Result) error { return r.Fail(classify(err)) })
		return
	}

	o.transition(id, func(r *task.Result) error { return r.Complete() })
	processed := 0
	if out != nil {
		processed = out.PapersProcessed
	}
	o.logger.Infow("Task completed",
		"task_id", id,
		"name", cfg.Name,
		"papers_processed", processed)
}

// classify maps a guarded invocation failure onto a human-readable error
// that distinguishes the failure class without leaking stack traces.
func classify(err error) error {
	switch {
	case errors.Is(err, errors.ErrTimeout):
		return errors.Newf("analysis timed out: %s", err.Error())
	case agent.IsResourceExhaustion(err):
		return errors.Newf("analysis resources exhausted: %s", err.Error())
	default:
		return errors.Newf("analysis failed: %s", err.Error())
	}
}

// transition applies a result mutation through the registry and logs
// illegal-edge attempts instead of propagating them.
func (o *Orchestrator) transition(id string, fn func(*task.Result) error) error {
	err := o.registry.Mutate(id, fn)
	if err != nil {
		o.logger.Warnw("Task transition rejected", "task_id", id, "error", err)
	}
	return err
}

// GetStatus returns the result for a task id, falling back to the history
// store for results archived from a previous process.
func (o *Orchestrator) GetStatus(id string) (*task.Result, error) {
	res, err := o.registry.Get(id)
	if err == nil {
		return res, nil
	}
	if o.history != nil && errors.IsNotFoundError(err) {
		return o.history.Load(id)
	}
	return nil, err
}

// Cancel requests best-effort cooperative cancellation of an immediate
// submission. Returns true if a cancellation was delivered. Recurring
// invocations are never cancelled mid-flight; remove the job instead.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	h, ok := o.handles[id]
	o.mu.Unlock()

	if !ok {
		return false
	}
	o.pool.Cancel(h)
	o.logger.Infow("Cancellation requested", "task_id", id)
	return true
}

// PauseScheduled disables a recurring job without removing it
func (o *Orchestrator) PauseScheduled(name string) error {
	return o.scheduler.Pause(name)
}

// ResumeScheduled re-enables a paused recurring job
func (o *Orchestrator) ResumeScheduled(name string) error {
	return o.scheduler.Resume(name)
}

// RemoveScheduled deletes a recurring job, waiting for any in-flight
// invocation to finish first.
func (o *Orchestrator) RemoveScheduled(name string) {
	o.scheduler.Unregister(name)
}

// ScheduledJobs returns a snapshot of the scheduler registry
func (o *Orchestrator) ScheduledJobs() []schedule.JobStatus {
	return o.scheduler.Jobs()
}

// Shutdown drains both children within their grace periods. Safe to call
// more than once; only the first call does the work. Register exactly one
// process shutdown hook that calls this.
func (o *Orchestrator) Shutdown() {
	o.stopOnce.Do(func() {
		o.logger.Infow("Orchestrator shutting down")
		o.scheduler.Stop()
		o.pool.Stop(true)
		o.logger.Infow("Orchestrator shutdown complete")
	})
}
