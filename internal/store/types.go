package store

// TaskStatus is one of the literal state-machine values from the task
// lifecycle; see scheduler and renderer for the transitions between them.
type TaskStatus string

const (
	TaskCreated      TaskStatus = "CREATED"
	TaskScheduled    TaskStatus = "SCHEDULED"
	TaskRunning      TaskStatus = "RUNNING"
	TaskCompleted    TaskStatus = "COMPLETED"
	TaskCompressing  TaskStatus = "COMPRESSING"
	TaskPacked       TaskStatus = "PACKED"
	TaskDone         TaskStatus = "DONE"
	TaskKilled       TaskStatus = "KILLED"
	TaskFailedRender TaskStatus = "FAILED(BLENDER)"
	TaskFailedPack   TaskStatus = "FAILED(TAR)"
)

// Terminal reports whether status has no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskDone, TaskKilled, TaskFailedRender, TaskFailedPack:
		return true
	default:
		return false
	}
}

// User is a provisioned account. PasswordHash is never exported over the
// API and is never mutated or deleted by the server itself.
type User struct {
	Username     string
	PasswordHash string
}

// Session is an authenticated client handle. A username has at most one
// active session at a time.
type Session struct {
	SessionID    string
	Username     string
	CreationTime string
}

// Task is one durable render job row. State is mutated only by the
// renderer's StateSink, never directly by an HTTP handler.
type Task struct {
	TaskID          string
	TaskName        string
	ParentSessionID string
	Username        string
	BlendFilePath   string
	TarPath         string
	StartFrame      int
	EndFrame        int
	State           TaskStatus
	CreatedAt       string
	UpdatedAt       string
}
