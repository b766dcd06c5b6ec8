// Package agent defines the boundary to the opaque analysis agent and the
// lifecycle guard that wraps every invocation of it.
package agent

import (
	"context"

	"github.com/paperdash/paperdash/errors"
	"github.com/paperdash/paperdash/task"
)

// ErrResourceExhausted is the typed failure class for an agent whose own
// internal concurrency/state primitives have become unusable after
// repeated use. It is distinct from a domain-logic failure: the guard
// retries it once through the stateless degrade path, while domain errors
// are terminal. Agents must return (or wrap) this sentinel rather than
// relying on error-message text.
var ErrResourceExhausted = errors.New("agent resources exhausted")

// IsResourceExhaustion reports whether err carries the resource-exhaustion
// failure class. The retry decision in the guard is a structural check on
// this, never string inspection.
func IsResourceExhaustion(err error) bool {
	return err != nil && errors.Is(err, ErrResourceExhausted)
}

// ResourceHealth is a point-in-time assessment of the agent's internal
// resources. Computed on demand, never persisted.
type ResourceHealth struct {
	WorkersHealthy         bool     `json:"workers_healthy"`
	CheckpointStoreHealthy bool     `json:"checkpoint_store_healthy"`
	Issues                 []string `json:"issues,omitempty"`
}

// Healthy returns true when both internal resources are usable
func (h ResourceHealth) Healthy() bool {
	return h.WorkersHealthy && h.CheckpointStoreHealthy
}

// Input is the work order handed to an agent invocation.
type Input struct {
	TaskID string
	Config task.Config

	// Stateless disables the agent's internal state persistence. Set by
	// the guard on the degrade path so the call can complete even when
	// the checkpoint store is unrecoverable.
	Stateless bool

	// Progress, if non-nil, receives fractional progress in [0,1].
	Progress func(float64)
}

// Output is the structured result of one agent invocation.
type Output struct {
	Summary         string `json:"summary,omitempty"`
	PapersProcessed int    `json:"papers_processed,omitempty"`
}

// Agent is the opaque long-running analysis callable. Implementations own
// internal resources (a checkpointing worker pool and a state store) that
// need explicit lifecycle management; the guard provides it.
type Agent interface {
	// Invoke runs the analysis. Implementations must observe ctx at
	// bounded intervals; the guard abandons (never force-kills) calls
	// that outlive their deadline.
	Invoke(ctx context.Context, in Input) (*Output, error)

	// CheckHealth is non-destructive and callable at any time.
	CheckHealth() ResourceHealth

	// Reset tears down and rebuilds the agent's internal resources
	// without destroying the agent itself. Returns whether the rebuild
	// succeeded.
	Reset() bool

	// Cleanup releases the agent's internal worker pool handle. Must be
	// idempotent and safe to call even if no invocation ever ran.
	Cleanup()
}
