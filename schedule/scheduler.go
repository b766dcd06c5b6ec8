package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paperdash/paperdash/errors"
	"github.com/paperdash/paperdash/worker"
)

const (
	// DefaultTickInterval is how often the control loop scans the registry
	DefaultTickInterval = 1 * time.Second
	// DefaultGracePeriod bounds how long Stop waits for in-flight bodies
	DefaultGracePeriod = 30 * time.Second
)

// SchedulerConfig contains configuration for the periodic scheduler
type SchedulerConfig struct {
	TickInterval time.Duration // How often to check for due jobs (default: 1 second)
	GracePeriod  time.Duration // Shutdown grace for in-flight bodies (default: 30s)
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval: DefaultTickInterval,
		GracePeriod:  DefaultGracePeriod,
	}
}

// Scheduler drives a fixed-cadence control loop over a registry of
// recurring jobs. Each tick scans the registry sequentially and
// dispatches every due job body onto its own goroutine, so one slow job
// never delays the tick deadline for the others.
type Scheduler struct {
	cfg      SchedulerConfig
	ctx      context.Context // passed to job bodies; cancelled only after the stop grace period
	cancel   context.CancelFunc
	stop     chan struct{} // signals the tick loop without touching body contexts
	stopOnce sync.Once
	wg       sync.WaitGroup // the tick loop itself
	logger   *zap.SugaredLogger
	pool     *worker.Pool // optional: pool metrics in the tick log

	mu         sync.Mutex
	jobs       map[string]*Job
	inflight   sync.WaitGroup // all dispatched bodies
	lastActive int            // in-flight count at last tick log
	ticks      int64
	lastTickAt time.Time
	now        func() time.Time // injectable clock for tests
}

// NewScheduler creates a scheduler derived from the parent context.
// pool may be nil; it is only consulted for metrics in the tick log.
func NewScheduler(ctx context.Context, cfg SchedulerConfig, pool *worker.Pool, logger *zap.SugaredLogger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	schedCtx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		cfg:    cfg,
		ctx:    schedCtx,
		cancel: cancel,
		stop:   make(chan struct{}),
		logger: logger.Named("schedule"),
		pool:   pool,
		jobs:   make(map[string]*Job),
		now:    time.Now,
	}
}

// Register adds a job to the registry. The first invocation happens one
// full interval after registration, never immediately.
func (s *Scheduler) Register(job *Job) error {
	if job.Name == "" {
		return errors.New("job name is required")
	}
	if job.IntervalSeconds <= 0 {
		return errors.Newf("job %s interval must be > 0 seconds", job.Name)
	}
	if job.Run == nil {
		return errors.Newf("job %s has no body", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return errors.Wrapf(errors.ErrDuplicateJob, "job %s", job.Name)
	}
	job.enabled = true
	job.lastRunAt = s.now()
	s.jobs[job.Name] = job

	s.logger.Infow("Registered scheduled job",
		"job", job.Name,
		"interval_seconds", job.IntervalSeconds)
	return nil
}

// Unregister removes a job. No-op if absent. Blocks until any in-flight
// invocation of that job has finished, so a dangling execution can never
// mutate state after removal.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	// Wait outside the registry lock: the body completion path needs it.
	job.inflight.Wait()
	s.logger.Infow("Unregistered scheduled job", "job", name)
}

// Pause disables a job without removing it. Disabled jobs are skipped by
// the tick scan.
func (s *Scheduler) Pause(name string) error {
	return s.setEnabled(name, false)
}

// Resume re-enables a paused job
func (s *Scheduler) Resume(name string) error {
	return s.setEnabled(name, true)
}

func (s *Scheduler) setEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return errors.Wrapf(errors.ErrUnknownJob, "job %s", name)
	}
	job.enabled = enabled
	s.logger.Infow("Scheduled job state changed", "job", name, "enabled", enabled)
	return nil
}

// Jobs returns a snapshot of all registered jobs
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{
			Name:            j.Name,
			IntervalSeconds: j.IntervalSeconds,
			Enabled:         j.enabled,
			Running:         j.running,
			NextRunAt:       j.lastRunAt.Add(time.Duration(j.IntervalSeconds) * time.Second),
		}
		if !j.lastRunAt.IsZero() {
			t := j.lastRunAt
			st.LastRunAt = &t
		}
		out = append(out, st)
	}
	return out
}

// Start begins the tick loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Infow("Scheduler started", "tick_interval", s.cfg.TickInterval)
}

// run is the main tick loop. It never awaits job bodies.
func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.ctx.Done():
			return
		case tickTime := <-ticker.C:
			s.tick(tickTime)
		}
	}
}

// Tick runs a single scheduler tick at the given instant. Exposed for
// tests driving simulated time; production time comes from run().
func (s *Scheduler) Tick(now time.Time) {
	s.tick(now)
}

func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	s.ticks++
	s.lastTickAt = now

	var due []*Job
	for _, j := range s.jobs {
		if j.due(now) {
			j.running = true
			j.lastRunAt = now
			j.inflight.Add(1)
			s.inflight.Add(1)
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		go s.invoke(j)
	}

	s.logTick(now, len(due))
}

// invoke runs one job body on its own goroutine. Panics are recovered and
// logged; converting failure into a terminal task state is the body's
// responsibility, nothing may kill the scheduler loop.
func (s *Scheduler) invoke(j *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Panic in scheduled job body", "job", j.Name, "panic", r)
		}
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
		j.inflight.Done()
		s.inflight.Done()
	}()

	j.Run(s.ctx)
}

// logTick emits a heartbeat line with the next due job and pool metrics.
// Only logs when the in-flight count changes, to keep the log calm.
func (s *Scheduler) logTick(now time.Time, dispatched int) {
	s.mu.Lock()
	active := 0
	var next *Job
	var nextAt time.Time
	for _, j := range s.jobs {
		if j.running {
			active++
		}
		if !j.enabled {
			continue
		}
		at := j.lastRunAt.Add(time.Duration(j.IntervalSeconds) * time.Second)
		if next == nil || at.Before(nextAt) {
			next, nextAt = j, at
		}
	}
	changed := active != s.lastActive
	s.lastActive = active
	s.mu.Unlock()

	if !changed && dispatched == 0 {
		return
	}

	fields := []interface{}{"in_flight", active, "dispatched", dispatched}
	if next != nil {
		until := nextAt.Sub(now)
		if until < 0 {
			until = 0
		}
		fields = append(fields, "next_job", next.Name, "next_in", until.Round(time.Second))
	}
	if s.pool != nil {
		m := s.pool.Metrics()
		fields = append(fields,
			"slots_active", m.SlotsActive,
			"slots_total", m.SlotsTotal,
			"memory_percent", m.MemoryPercent)
	}
	s.logger.Infow("Scheduler tick", fields...)
}

// Stop signals the loop to stop after the current tick, then waits for
// in-flight job bodies up to the grace period. Body contexts stay live
// through the wait so an invocation already executing can reach its
// terminal state normally; only stragglers that outlive the grace period
// get cancelled and abandoned.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("Scheduler stopped - all job bodies finished")
	case <-time.After(s.cfg.GracePeriod):
		s.logger.Warnw("Scheduler stop grace period elapsed - cancelling stragglers",
			"grace_period", s.cfg.GracePeriod)
	}
	s.cancel()
}

// Stats returns scheduler loop statistics
func (s *Scheduler) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      s.lastTickAt,
		"ticks_since_start": s.ticks,
		"tick_interval":     s.cfg.TickInterval,
		"jobs_registered":   len(s.jobs),
	}
}
