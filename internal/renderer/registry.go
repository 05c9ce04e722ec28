package renderer

import "sync"

// TaskRegistry is the explicit replacement for a module-level mutable task
// map: one map[task_id]*Supervisor guarded by a mutex, owned by the
// scheduler and shared with the auth manager and API server via dependency
// injection. The scheduler takes a Snapshot for each tick so a long
// PackOutput call does not hold the lock.
type TaskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]*Supervisor
}

// NewTaskRegistry returns an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]*Supervisor)}
}

// Put registers sup under taskID, created alongside the task row.
func (r *TaskRegistry) Put(taskID string, sup *Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[taskID] = sup
}

// Get returns the supervisor for taskID, or (nil, false) if none exists —
// the case for any task without a live supervisor, e.g. after a restart.
func (r *TaskRegistry) Get(taskID string) (*Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sup, ok := r.tasks[taskID]
	return sup, ok
}

// Delete removes taskID's supervisor, destroyed alongside its task row.
func (r *TaskRegistry) Delete(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
}

// Snapshot returns a point-in-time copy of the registry's contents for the
// scheduler to iterate without holding the lock across a tick.
func (r *TaskRegistry) Snapshot() map[string]*Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Supervisor, len(r.tasks))
	for k, v := range r.tasks {
		out[k] = v
	}
	return out
}
