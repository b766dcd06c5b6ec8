// Package schedule provides recurring job scheduling on a fixed-cadence
// control loop.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Job represents a recurring scheduled unit of work. Fields beyond the
// identity ones are owned by the scheduler and mutated only under its
// registry lock.
type Job struct {
	Name            string
	IntervalSeconds int

	// Run is the job body. It must observe ctx at bounded intervals;
	// the scheduler never force-kills an invocation.
	Run func(ctx context.Context)

	enabled   bool
	lastRunAt time.Time
	running   bool           // self-overlap guard: at most one in-flight invocation
	inflight  sync.WaitGroup // waited on by Unregister and Stop
}

// due reports whether the job should be invoked now.
// REQUIRES: the scheduler's registry lock must be held.
func (j *Job) due(now time.Time) bool {
	if !j.enabled || j.running {
		return false
	}
	return now.Sub(j.lastRunAt) >= time.Duration(j.IntervalSeconds)*time.Second
}

// JobStatus is a point-in-time snapshot of a registered job, exposed for
// status listings.
type JobStatus struct {
	Name            string     `json:"name"`
	IntervalSeconds int        `json:"interval_seconds"`
	Enabled         bool       `json:"enabled"`
	Running         bool       `json:"running"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	NextRunAt       time.Time  `json:"next_run_at"`
}
