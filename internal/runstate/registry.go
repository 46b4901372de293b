// Package runstate tracks which jobs are currently executing in this process.
package runstate

import (
	"sort"
	"sync"
)

// Registry is the process-wide set of running job ids. State is not
// persisted; a restart clears it.
type Registry struct {
	mu      sync.Mutex
	running map[string]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{running: make(map[string]struct{})}
}

// IsRunning reports whether jobID is currently marked as executing.
func (r *Registry) IsRunning(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[jobID]
	return ok
}

// MarkRunning atomically inserts jobID. It returns false, without side
// effects, when the job is already present.
func (r *Registry) MarkRunning(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[jobID]; ok {
		return false
	}
	r.running[jobID] = struct{}{}
	return true
}

// MarkFinished removes jobID. Safe to call for ids that are not present.
func (r *Registry) MarkFinished(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, jobID)
}

// Snapshot returns the running job ids, sorted.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
