// Package audit writes an append-only JSONL ledger of task lifecycle and
// session events, driven entirely off the event bus so the store and auth
// layers never need to know the ledger exists.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coldforge/renderfarm/internal/bus"
	"github.com/coldforge/renderfarm/internal/shared"
)

type entry struct {
	Timestamp       string `json:"timestamp"`
	Event           string `json:"event"`
	TaskID          string `json:"task_id,omitempty"`
	ParentSessionID string `json:"parent_session_id,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
	Username        string `json:"username,omitempty"`
	OldState        string `json:"old_state,omitempty"`
	NewState        string `json:"new_state,omitempty"`
}

// Logger appends one JSON line per lifecycle event to a file under
// <scratchDir>/../logs/audit.jsonl.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// New opens (creating if necessary) the audit ledger file.
func New(scratchDir string) (*Logger, error) {
	logDir := filepath.Join(filepath.Dir(filepath.Clean(scratchDir)), "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: creating log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: opening ledger: %w", err)
	}
	return &Logger{file: f}, nil
}

// Close flushes and closes the underlying ledger file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Subscribe wires the logger onto every lifecycle topic the bus carries.
func (l *Logger) Subscribe(b *bus.Bus) {
	b.Subscribe(bus.TopicTaskStateChanged, l.onTaskStateChanged)
	b.Subscribe(bus.TopicSessionCreated, l.onSessionCreated)
	b.Subscribe(bus.TopicSessionRemoved, l.onSessionRemoved)
}

func (l *Logger) onTaskStateChanged(ev bus.Event) {
	payload, ok := ev.Payload.(bus.TaskStateChangedEvent)
	if !ok {
		return
	}
	l.write(entry{
		Event:           "task_state_changed",
		TaskID:          payload.TaskID,
		ParentSessionID: payload.ParentSessionID,
		OldState:        payload.OldState,
		NewState:        payload.NewState,
	})
}

func (l *Logger) onSessionCreated(ev bus.Event) {
	payload, ok := ev.Payload.(bus.SessionCreatedEvent)
	if !ok {
		return
	}
	l.write(entry{
		Event:     "session_created",
		SessionID: payload.SessionID,
		Username:  payload.Username,
	})
}

func (l *Logger) onSessionRemoved(ev bus.Event) {
	payload, ok := ev.Payload.(bus.SessionRemovedEvent)
	if !ok {
		return
	}
	l.write(entry{
		Event:     "session_removed",
		SessionID: payload.SessionID,
		Username:  payload.Username,
	})
}

func (l *Logger) write(e entry) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	e.Username = shared.Redact(e.Username)

	b, err := json.Marshal(e)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	_, _ = l.file.Write(append(b, '\n'))
}
