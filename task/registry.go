package task

import (
	"sync"

	"go.uber.org/zap"

	"github.com/paperdash/paperdash/errors"
)

// HistoryStore persists result snapshots on every state transition.
// The read path backs historical listing for the boundary layer.
type HistoryStore interface {
	Save(r *Result) error
	Load(id string) (*Result, error)
	ListByStatus(status Status) ([]*Result, error)
}

// Registry is the single shared map of task id -> Result, guarded by its
// own mutex so a slow task body never blocks unrelated status polls.
// It is an explicit, injected object - callers hold a reference, there is
// no package-level state.
type Registry struct {
	mu      sync.RWMutex
	results map[string]*Result
	history HistoryStore // optional - nil disables persistence
	logger  *zap.SugaredLogger
}

// NewRegistry creates a registry backed by an optional history store.
func NewRegistry(history HistoryStore, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		results: make(map[string]*Result),
		history: history,
		logger:  logger,
	}
}

// Add records a freshly created result and persists the initial snapshot.
func (reg *Registry) Add(r *Result) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.results[r.ID]; exists {
		return errors.Newf("task %s already registered", r.ID)
	}
	reg.results[r.ID] = r
	reg.persist(r)
	return nil
}

// Get returns a snapshot copy of a result so callers can never mutate
// registry state outside a transition.
func (reg *Registry) Get(id string) (*Result, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.results[id]
	if !ok {
		return nil, errors.NewNotFoundError("task %s", id)
	}
	snapshot := *r
	return &snapshot, nil
}

// Mutate applies fn to the live result under the registry lock and
// persists the new snapshot. Reads/modifies/writes are linearizable per
// key; there is no cross-key snapshot guarantee.
func (reg *Registry) Mutate(id string, fn func(*Result) error) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.results[id]
	if !ok {
		return errors.NewNotFoundError("task %s", id)
	}
	if err := fn(r); err != nil {
		return err
	}
	reg.persist(r)
	return nil
}

// Remove deletes a result from the registry and, when the history store
// supports deletion, from history. Used to roll back a submission that
// was rejected after the result was provisionally created.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	delete(reg.results, id)
	if deleter, ok := reg.history.(interface{ Delete(id string) error }); ok {
		if err := deleter.Delete(id); err != nil && reg.logger != nil {
			reg.logger.Warnw("Failed to delete task result from history", "task_id", id, "error", err)
		}
	}
}

// List returns snapshot copies of all results, optionally filtered by status.
func (reg *Registry) List(status *Status) []*Result {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]*Result, 0, len(reg.results))
	for _, r := range reg.results {
		if status != nil && r.Status != *status {
			continue
		}
		snapshot := *r
		out = append(out, &snapshot)
	}
	return out
}

// persist writes the current snapshot to the history store.
// REQUIRES: reg.mu must be held by caller.
// History writes are best-effort: a store failure must not fail the
// transition that is already committed in memory.
func (reg *Registry) persist(r *Result) {
	if reg.history == nil {
		return
	}
	snapshot := *r
	if err := reg.history.Save(&snapshot); err != nil && reg.logger != nil {
		reg.logger.Warnw("Failed to persist task result",
			"task_id", r.ID,
			"status", r.Status,
			"error", err)
	}
}
