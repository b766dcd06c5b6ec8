// Package task defines the task result model shared by the worker pool,
// the scheduler, and the orchestrator, along with its registry and
// history persistence.
package task

import (
	"time"

	"github.com/google/uuid"

	"github.com/paperdash/paperdash/errors"
)

// Status represents the current state of a task execution attempt
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Terminal returns true for states that permit no further transitions
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Mode distinguishes fire-once submissions from recurring ones
type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeScheduled Mode = "scheduled"
)

// Task kinds supported by the engine
const (
	KindCollect = "collect" // paper collection from ArXiv
	KindAnalyze = "analyze" // deep analysis of a single paper
)

// Config is the job configuration captured at submission time.
// The snapshot stored on a Result is never mutated after creation.
type Config struct {
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	Query           string `json:"query,omitempty"`    // collection search query
	PaperID         string `json:"paper_id,omitempty"` // analysis target
	MaxResults      int    `json:"max_results,omitempty"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"` // scheduled mode only
	Stateless       bool   `json:"stateless,omitempty"`        // disable agent checkpointing
}

// Validate checks the config before any execution. Rejected configs never
// produce a Result.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.NewInvalidConfigError("name is required")
	}
	switch c.Kind {
	case KindCollect:
		if c.Query == "" {
			return errors.NewInvalidConfigError("collect task %q requires a query", c.Name)
		}
	case KindAnalyze:
		if c.PaperID == "" {
			return errors.NewInvalidConfigError("analyze task %q requires a paper_id", c.Name)
		}
	default:
		return errors.NewInvalidConfigError("unknown task kind %q", c.Kind)
	}
	if c.MaxResults < 0 {
		return errors.NewInvalidConfigError("max_results must be >= 0")
	}
	return nil
}

// Result is the record of one execution attempt, immediate or scheduled.
// All mutation goes through the transition methods so the lifecycle
// pending -> running -> {completed|failed|stopped} cannot be violated.
type Result struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	Mode      Mode       `json:"mode"`
	Config    Config     `json:"config"`
	Progress  float64    `json:"progress"`
	Error     string     `json:"error,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewResult creates a pending result with a fresh ID and an immutable
// snapshot of the submitted config.
func NewResult(cfg Config, mode Mode) *Result {
	now := time.Now()
	return &Result{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Mode:      mode,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Start marks the result as running
func (r *Result) Start() error {
	if r.Status != StatusPending {
		return errors.Newf("illegal transition %s -> %s for task %s", r.Status, StatusRunning, r.ID)
	}
	now := time.Now()
	r.Status = StatusRunning
	r.StartTime = &now
	r.UpdatedAt = now
	return nil
}

// Complete marks the result as completed and pins progress at 1.0
func (r *Result) Complete() error {
	if r.Status != StatusRunning {
		return errors.Newf("illegal transition %s -> %s for task %s", r.Status, StatusCompleted, r.ID)
	}
	now := time.Now()
	r.Status = StatusCompleted
	r.Progress = 1.0
	r.EndTime = &now
	r.UpdatedAt = now
	return nil
}

// Fail marks the result as failed with a human-readable error
func (r *Result) Fail(err error) error {
	if r.Status != StatusRunning {
		return errors.Newf("illegal transition %s -> %s for task %s", r.Status, StatusFailed, r.ID)
	}
	now := time.Now()
	r.Status = StatusFailed
	r.Error = err.Error()
	r.EndTime = &now
	r.UpdatedAt = now
	return nil
}

// Stop marks the result as stopped. Unlike Fail, Stop is legal from
// pending: queued work abandoned at shutdown never reaches running.
func (r *Result) Stop(reason string) error {
	if r.Status != StatusPending && r.Status != StatusRunning {
		return errors.Newf("illegal transition %s -> %s for task %s", r.Status, StatusStopped, r.ID)
	}
	now := time.Now()
	r.Status = StatusStopped
	r.Error = reason
	r.EndTime = &now
	r.UpdatedAt = now
	return nil
}

// SetProgress updates progress while running. Progress is monotonically
// non-decreasing and clamped to [0,1]; regressions are ignored.
func (r *Result) SetProgress(p float64) {
	if r.Status != StatusRunning {
		return
	}
	if p > 1.0 {
		p = 1.0
	}
	if p <= r.Progress {
		return
	}
	r.Progress = p
	r.UpdatedAt = time.Now()
}
