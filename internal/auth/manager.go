// Package auth implements password verification, session issuance, and the
// task-lifecycle orchestration (create/list/kill/delete/result) that sits
// between the HTTP handlers and the store/renderer collaborators.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/coldforge/renderfarm/internal/renderer"
	"github.com/coldforge/renderfarm/internal/store"
)

// verifyBudget is the fixed wall-clock budget every password verification
// call consumes, computed once at call entry and honoured on every return
// path — including the user-missing path — so that user existence cannot
// be inferred from response timing.
const verifyBudget = 5 * time.Second

const sessionTaskIDBytes = 16 // 128 bits, hex-encoded below.

var (
	// ErrBadCredentials is returned by Login/ListSessions/RemoveSession on
	// an unknown user or wrong password, and by every session-authenticated
	// call (RequireSession) on an unknown session_id.
	ErrBadCredentials = errors.New("auth: bad credentials")
	// ErrSessionNotFound is returned by RemoveSession when the session_id
	// does not exist or belongs to a different user.
	ErrSessionNotFound = errors.New("auth: session not found")
	// ErrTaskNotFound is returned when a task_id does not exist.
	ErrTaskNotFound = errors.New("auth: task not found")
	// ErrTaskNotOwned is returned when a task exists but belongs to a
	// different session than the caller's — deliberately indistinguishable
	// from ErrTaskNotFound at the HTTP boundary, so that task existence is
	// never leaked across sessions.
	ErrTaskNotOwned = errors.New("auth: task not owned by session")
	// ErrBadFrameRange is returned when start/end frame values aren't
	// valid non-negative integers with start <= end.
	ErrBadFrameRange = errors.New("auth: invalid frame range")
	// ErrTaskNotPacked is returned by PreparePackagedResult when the task
	// hasn't reached PACKED yet.
	ErrTaskNotPacked = errors.New("auth: task result not ready")
)

// Manager is the thin orchestration layer over Store + TaskRegistry. It
// implements renderer.StateSink so supervisors never hold a reference back
// to it directly.
type Manager struct {
	store      *store.Store
	registry   *renderer.TaskRegistry
	scratchDir string
	blenderBin string
	logger     *slog.Logger
}

// NewManager returns a Manager wired to st and registry. scratchDir is the
// configured UPLOAD_FACILITY; blenderBin is the configured BLENDER_BIN.
func NewManager(st *store.Store, registry *renderer.TaskRegistry, scratchDir, blenderBin string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, registry: registry, scratchDir: scratchDir, blenderBin: blenderBin, logger: logger}
}

// Update implements renderer.StateSink: every supervisor transition is
// persisted to the store, which in turn publishes the task.state_changed
// bus event.
func (m *Manager) Update(taskID string, newState store.TaskStatus) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := m.store.UpdateTaskState(context.Background(), taskID, newState, now); err != nil {
		m.logger.Error("persisting task state transition failed", "task_id", taskID, "state", newState, "error", err)
		return
	}
	m.logger.Info("task state changed", "task_id", taskID, "state", newState)

	if newState == store.TaskPacked {
		m.recordTarPath(taskID)
	}
}

// recordTarPath persists the packaged artifact path once a task reaches
// PACKED, so a DB-level read of the task reflects where its result lives
// even without a live supervisor to ask.
func (m *Manager) recordTarPath(taskID string) {
	sup, ok := m.registry.Get(taskID)
	if !ok {
		return
	}
	tarPath := sup.TarPath()
	if tarPath == "" {
		return
	}
	if err := m.store.SetTaskTarPath(context.Background(), taskID, tarPath); err != nil {
		m.logger.Error("persisting task tar path failed", "task_id", taskID, "error", err)
	}
}

// VerifyPassword checks username/password against the store within a fixed
// wall-clock budget computed at call entry, so the latency is identical
// whether the user doesn't exist, the hash doesn't match, or both.
func (m *Manager) VerifyPassword(ctx context.Context, username, password string) error {
	deadline := time.Now().Add(verifyBudget)
	err := m.verifyPasswordInner(ctx, username, password)
	if remaining := time.Until(deadline); remaining > 0 {
		time.Sleep(remaining)
	}
	return err
}

func (m *Manager) verifyPasswordInner(ctx context.Context, username, password string) error {
	user, err := m.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return ErrBadCredentials
	}
	if err != nil {
		return fmt.Errorf("auth: looking up user: %w", err)
	}
	ok, err := VerifyPassword(user.PasswordHash, password)
	if err != nil {
		return fmt.Errorf("auth: verifying password: %w", err)
	}
	if !ok {
		return ErrBadCredentials
	}
	return nil
}

// Login verifies credentials and returns the user's session, minting one
// if none exists yet. A username has at most one active session.
func (m *Manager) Login(ctx context.Context, username, password string) (string, error) {
	if err := m.VerifyPassword(ctx, username, password); err != nil {
		return "", err
	}

	existing, err := m.store.GetSessionsByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("auth: looking up sessions: %w", err)
	}
	if len(existing) > 0 {
		return existing[0].SessionID, nil
	}

	sessionID, err := newHexID()
	if err != nil {
		return "", err
	}
	sess := store.Session{
		SessionID:    sessionID,
		Username:     username,
		CreationTime: strconv.FormatInt(time.Now().Unix(), 10),
	}
	if err := m.store.AddSession(ctx, sess); err != nil {
		return "", fmt.Errorf("auth: persisting session: %w", err)
	}
	return sessionID, nil
}

// ListSessions verifies credentials and returns every session for
// username (normally zero or one).
func (m *Manager) ListSessions(ctx context.Context, username, password string) ([]store.Session, error) {
	if err := m.VerifyPassword(ctx, username, password); err != nil {
		return nil, err
	}
	return m.store.GetSessionsByUsername(ctx, username)
}

// RemoveSession verifies credentials, confirms sessionID belongs to
// username, and deletes it. Deletion cascades to that session's tasks at
// the store layer.
func (m *Manager) RemoveSession(ctx context.Context, username, password, sessionID string) error {
	if err := m.VerifyPassword(ctx, username, password); err != nil {
		return err
	}
	sess, err := m.store.GetSessionById(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if sess.Username != username {
		return ErrSessionNotFound
	}

	tasks, err := m.store.GetTasksBySessionId(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteSessionById(ctx, sessionID); err != nil {
		return err
	}
	for _, t := range tasks {
		if sup, ok := m.registry.Get(t.TaskID); ok {
			_ = sup.Cleanup()
		}
		m.registry.Delete(t.TaskID)
	}
	return nil
}

// RequireSession validates that sessionID exists, the authentication
// check every handler except /login and /session/* performs. An unknown
// session_id is an authentication failure (ErrBadCredentials).
func (m *Manager) RequireSession(ctx context.Context, sessionID string) (store.Session, error) {
	sess, err := m.store.GetSessionById(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Session{}, ErrBadCredentials
	}
	return sess, err
}

// AddTask validates the session, mints a task id, writes the uploaded
// scene bytes to the scratch directory, persists the task row, and
// constructs a supervisor for it — which immediately transitions the task
// to SCHEDULED.
func (m *Manager) AddTask(ctx context.Context, sessionID, taskName string, startFrame, endFrame int, blendBytes []byte) (string, error) {
	sess, err := m.RequireSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if startFrame < 0 || endFrame < 0 || startFrame > endFrame {
		return "", ErrBadFrameRange
	}

	taskID, err := newHexID()
	if err != nil {
		return "", err
	}
	blendPath := filepath.Join(m.scratchDir, taskID+".blend")
	if err := os.WriteFile(blendPath, blendBytes, 0o644); err != nil {
		return "", fmt.Errorf("auth: writing uploaded scene: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	task := store.Task{
		TaskID:          taskID,
		TaskName:        taskName,
		ParentSessionID: sessionID,
		Username:        sess.Username,
		BlendFilePath:   blendPath,
		StartFrame:      startFrame,
		EndFrame:        endFrame,
		State:           store.TaskCreated,
		CreatedAt:       now,
	}
	if err := m.store.AddTask(ctx, task); err != nil {
		return "", fmt.Errorf("auth: persisting task: %w", err)
	}

	sup, err := renderer.New(taskID, blendPath, m.scratchDir, m.blenderBin, startFrame, endFrame, m, m.logger)
	if err != nil {
		return "", fmt.Errorf("auth: constructing supervisor: %w", err)
	}
	m.registry.Put(taskID, sup)
	return taskID, nil
}

// TaskView is a task row with its in-memory progress attached, the shape
// every /task/* read endpoint returns.
type TaskView struct {
	store.Task
	Progress string
}

// requireOwnedTask validates the session, loads the task, and confirms
// parent_session_id matches sessionID. A mismatch and a nonexistent task
// are deliberately indistinguishable (ErrTaskNotOwned wraps the same HTTP
// status as ErrTaskNotFound) so that task existence is never leaked
// across sessions.
func (m *Manager) requireOwnedTask(ctx context.Context, sessionID, taskID string) (store.Task, error) {
	if _, err := m.RequireSession(ctx, sessionID); err != nil {
		return store.Task{}, err
	}
	task, err := m.store.GetTaskById(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return store.Task{}, err
	}
	if task.ParentSessionID != sessionID {
		return store.Task{}, ErrTaskNotOwned
	}
	return task, nil
}

// StatTask returns a task's row plus its live progress, or "" when it has
// no live supervisor (e.g. after a restart).
func (m *Manager) StatTask(ctx context.Context, sessionID, taskID string) (TaskView, error) {
	task, err := m.requireOwnedTask(ctx, sessionID, taskID)
	if err != nil {
		return TaskView{}, err
	}
	return m.toView(task), nil
}

// ListTasks returns every task owned by sessionID with live progress
// attached.
func (m *Manager) ListTasks(ctx context.Context, sessionID string) ([]TaskView, error) {
	if _, err := m.RequireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	tasks, err := m.store.GetTasksBySessionId(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, m.toView(t))
	}
	return out, nil
}

func (m *Manager) toView(t store.Task) TaskView {
	progress := ""
	if sup, ok := m.registry.Get(t.TaskID); ok {
		progress = sup.Progress()
		t.State = sup.State()
		t.TarPath = sup.TarPath()
	}
	return TaskView{Task: t, Progress: progress}
}

// KillTask sets the task's kill flag. Idempotent; a no-op if the task has
// no live supervisor or is already terminal.
func (m *Manager) KillTask(ctx context.Context, sessionID, taskID string) error {
	if _, err := m.requireOwnedTask(ctx, sessionID, taskID); err != nil {
		return err
	}
	if sup, ok := m.registry.Get(taskID); ok {
		sup.Kill()
	}
	return nil
}

// DeleteTask removes the task row, cleans up its scratch artifacts (via
// the supervisor if one exists), and drops it from the registry.
func (m *Manager) DeleteTask(ctx context.Context, sessionID, taskID string) error {
	if _, err := m.requireOwnedTask(ctx, sessionID, taskID); err != nil {
		return err
	}
	if sup, ok := m.registry.Get(taskID); ok {
		if err := sup.Cleanup(); err != nil {
			m.logger.Warn("cleanup failed during task delete", "task_id", taskID, "error", err)
		}
	}
	m.registry.Delete(taskID)
	if err := m.store.DeleteTaskById(ctx, taskID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// PreparePackagedResult validates ownership and that the task has reached
// PACKED, returning its tar path for the handler to stream.
func (m *Manager) PreparePackagedResult(ctx context.Context, sessionID, taskID string) (string, error) {
	task, err := m.requireOwnedTask(ctx, sessionID, taskID)
	if err != nil {
		return "", err
	}
	state, tarPath := task.State, task.TarPath
	if sup, ok := m.registry.Get(taskID); ok {
		state, tarPath = sup.State(), sup.TarPath()
	}
	if state != store.TaskPacked || tarPath == "" {
		return "", ErrTaskNotPacked
	}
	return tarPath, nil
}

// FinalizeResult transitions a task PACKED→DONE after its bytes have been
// written to the client. Invoked once per successful result download.
func (m *Manager) FinalizeResult(taskID string) {
	if sup, ok := m.registry.Get(taskID); ok {
		sup.Done()
	}
}

func newHexID() (string, error) {
	b := make([]byte, sessionTaskIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
