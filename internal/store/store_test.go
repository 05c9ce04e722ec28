package store_test

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/coldforge/renderfarm/internal/config"
	"github.com/coldforge/renderfarm/internal/store"
)

// openTestStore connects to a real Postgres instance configured via
// RENDERFARM_TEST_DB_* environment variables. These tests exercise actual
// SQL against a real server (unlike the teacher's embedded-sqlite tests,
// Postgres has no in-process equivalent) and are skipped when that server
// isn't available, matching the doctor package's own reachability check.
func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	host := os.Getenv("RENDERFARM_TEST_DB_HOST")
	if host == "" {
		t.Skip("RENDERFARM_TEST_DB_HOST not set, skipping store integration test")
	}
	port, err := strconv.Atoi(os.Getenv("RENDERFARM_TEST_DB_PORT"))
	if err != nil {
		t.Fatalf("RENDERFARM_TEST_DB_PORT must be an integer: %v", err)
	}
	cfg := config.DatabaseConfig{
		Host: host,
		Port: port,
		Name: os.Getenv("RENDERFARM_TEST_DB_NAME"),
		User: os.Getenv("RENDERFARM_TEST_DB_USER"),
		Pass: os.Getenv("RENDERFARM_TEST_DB_PASS"),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := store.Open(ctx, cfg, nil, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_UserLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	username := "user_" + store.NewTestID()
	if err := s.AddUser(ctx, username, "$argon2id$v=19$m=65536,t=1,p=4$salt$hash"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	if err := s.AddUser(ctx, username, "$argon2id$v=19$m=65536,t=1,p=4$salt$hash"); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on second AddUser, got %v", err)
	}

	u, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u.Username != username {
		t.Fatalf("unexpected username %q", u.Username)
	}

	if _, err := s.GetUserByUsername(ctx, "nonexistent-"+username); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SessionAndTaskCascade(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	username := "user_" + store.NewTestID()
	if err := s.AddUser(ctx, username, "hash"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	sessionID := store.NewTestID()
	if err := s.AddSession(ctx, store.Session{SessionID: sessionID, Username: username, CreationTime: "0"}); err != nil {
		t.Fatalf("AddSession: %v", err)
	}

	taskID := store.NewTestID()
	now := time.Now().UTC().Format(time.RFC3339)
	task := store.Task{
		TaskID:          taskID,
		TaskName:        "cube",
		ParentSessionID: sessionID,
		Username:        username,
		BlendFilePath:   "/scratch/" + taskID + ".blend",
		StartFrame:      1,
		EndFrame:        1,
		State:           store.TaskCreated,
		CreatedAt:       now,
	}
	if err := s.AddTask(ctx, task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	got, err := s.GetTaskById(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTaskById: %v", err)
	}
	if got.State != store.TaskCreated {
		t.Fatalf("expected state CREATED, got %q", got.State)
	}

	if err := s.UpdateTaskState(ctx, taskID, store.TaskScheduled, time.Now().UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("UpdateTaskState: %v", err)
	}
	got, err = s.GetTaskById(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTaskById after update: %v", err)
	}
	if got.State != store.TaskScheduled {
		t.Fatalf("expected state SCHEDULED, got %q", got.State)
	}

	tasksBefore, err := s.GetTasksBySessionId(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetTasksBySessionId: %v", err)
	}
	if len(tasksBefore) != 1 {
		t.Fatalf("expected 1 task for session, got %d", len(tasksBefore))
	}

	if err := s.DeleteSessionById(ctx, sessionID); err != nil {
		t.Fatalf("DeleteSessionById: %v", err)
	}

	if _, err := s.GetTaskById(ctx, taskID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected task to be cascade-deleted, got %v", err)
	}

	if err := s.DeleteSessionById(ctx, sessionID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting an already-removed session, got %v", err)
	}
}

func TestStore_ListNonTerminalTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	username := "user_" + store.NewTestID()
	if err := s.AddUser(ctx, username, "hash"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	sessionID := store.NewTestID()
	if err := s.AddSession(ctx, store.Session{SessionID: sessionID, Username: username, CreationTime: "0"}); err != nil {
		t.Fatalf("AddSession: %v", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	running := store.NewTestID()
	done := store.NewTestID()
	for _, tc := range []struct {
		id    string
		state store.TaskStatus
	}{
		{running, store.TaskRunning},
		{done, store.TaskDone},
	} {
		task := store.Task{
			TaskID: tc.id, TaskName: "t", ParentSessionID: sessionID, Username: username,
			BlendFilePath: "/scratch/" + tc.id + ".blend", StartFrame: 1, EndFrame: 1,
			State: store.TaskCreated, CreatedAt: now,
		}
		if err := s.AddTask(ctx, task); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
		if err := s.UpdateTaskState(ctx, tc.id, tc.state, now); err != nil {
			t.Fatalf("UpdateTaskState: %v", err)
		}
	}

	nonTerminal, err := s.ListNonTerminalTasks(ctx)
	if err != nil {
		t.Fatalf("ListNonTerminalTasks: %v", err)
	}
	var found bool
	for _, tk := range nonTerminal {
		if tk.TaskID == done {
			t.Fatalf("terminal task %q should not be in non-terminal list", done)
		}
		if tk.TaskID == running {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected running task %q in non-terminal list", running)
	}
}
