package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paperdash/paperdash/task"
)

// Sim is a simulated analysis agent for local development and smoke
// testing: it sleeps through a configurable number of steps, reports
// progress, and observes cancellation between steps. Its internal
// resources are plain counters, so health checks and resets behave like
// the real thing without any external dependency.
type Sim struct {
	StepDelay time.Duration // Per-step delay (default: 200ms)
	Steps     int           // Number of analysis steps (default: 5)

	mu        sync.Mutex
	cleaned   bool
	unhealthy bool
}

// Invoke implements Agent
func (s *Sim) Invoke(ctx context.Context, in Input) (*Output, error) {
	steps := s.Steps
	if steps <= 0 {
		steps = 5
	}
	delay := s.StepDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if in.Progress != nil {
			in.Progress(float64(i) / float64(steps))
		}
	}

	processed := 1
	if in.Config.Kind == task.KindCollect {
		processed = in.Config.MaxResults
		if processed <= 0 {
			processed = 10
		}
	}
	return &Output{
		Summary:         fmt.Sprintf("simulated %s of %q", in.Config.Kind, in.Config.Name),
		PapersProcessed: processed,
	}, nil
}

// CheckHealth implements Agent
func (s *Sim) CheckHealth() ResourceHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	health := ResourceHealth{WorkersHealthy: true, CheckpointStoreHealthy: true}
	if s.unhealthy || s.cleaned {
		health.WorkersHealthy = false
		health.Issues = append(health.Issues, "simulated worker pool is down")
	}
	return health
}

// Reset implements Agent
func (s *Sim) Reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unhealthy = false
	s.cleaned = false
	return true
}

// Cleanup implements Agent. Idempotent.
func (s *Sim) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned = true
}
