package renderer

import "github.com/coldforge/renderfarm/internal/store"

// StateSink receives a task's new state whenever a supervisor transitions
// it. It exists so the supervisor never holds a direct reference back to
// the auth manager that constructed it — see the registry's construction
// path in auth.Manager.AddTask.
type StateSink interface {
	Update(taskID string, newState store.TaskStatus)
}
