package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coldforge/renderfarm/internal/bus"
)

// AddTask inserts a new task row with state CREATED. Returns ErrDuplicate
// on a task_id collision.
func (s *Store) AddTask(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks
			(task_id, task_name, parent_session_id, username, blend_file_path,
			 tar_path, start_frame, end_frame, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		t.TaskID, t.TaskName, t.ParentSessionID, t.Username, t.BlendFilePath,
		t.TarPath, t.StartFrame, t.EndFrame, t.State, t.CreatedAt,
	)
	return classifyWriteError(err)
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (Task, error) {
	var t Task
	err := scanner.Scan(
		&t.TaskID, &t.TaskName, &t.ParentSessionID, &t.Username,
		&t.BlendFilePath, &t.TarPath, &t.StartFrame, &t.EndFrame,
		&t.State, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

const taskColumns = `task_id, task_name, parent_session_id, username, blend_file_path,
	tar_path, start_frame, end_frame, state, created_at, updated_at`

// GetTaskById returns the task row, or ErrNotFound.
func (s *Store) GetTaskById(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// GetTasksBySessionId returns every task row owned by sessionID, ordered by
// creation time.
func (s *Store) GetTasksBySessionId(ctx context.Context, sessionID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE parent_session_id = $1 ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListNonTerminalTasks returns every task whose state is not one of the
// terminal states, used by the restart recovery policy.
func (s *Store) ListNonTerminalTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE state NOT IN ($1, $2, $3, $4)`,
		TaskDone, TaskKilled, TaskFailedRender, TaskFailedPack,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTaskState sets a task's state column and updated_at timestamp, and
// publishes a TopicTaskStateChanged event. Returns ErrNotFound if no such
// task exists.
func (s *Store) UpdateTaskState(ctx context.Context, taskID string, newState TaskStatus, updatedAt string) error {
	var oldState TaskStatus
	err := s.db.QueryRowContext(ctx, `SELECT state FROM tasks WHERE task_id = $1`, taskID).Scan(&oldState)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = $1, updated_at = $2 WHERE task_id = $3`,
		newState, updatedAt, taskID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	var parentSessionID string
	_ = s.db.QueryRowContext(ctx, `SELECT parent_session_id FROM tasks WHERE task_id = $1`, taskID).Scan(&parentSessionID)

	s.publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
		TaskID:          taskID,
		ParentSessionID: parentSessionID,
		OldState:        string(oldState),
		NewState:        string(newState),
	})
	return nil
}

// SetTaskTarPath records the packaged artifact path after a successful
// PackOutput.
func (s *Store) SetTaskTarPath(ctx context.Context, taskID, tarPath string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET tar_path = $1 WHERE task_id = $2`, tarPath, taskID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTaskById removes the task row. Returns ErrNotFound if it does not
// exist. Does not touch scratch files; callers invoke the renderer's
// Cleanup separately.
func (s *Store) DeleteTaskById(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = $1`, taskID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTasksBySessionId removes every task row owned by sessionID. Used
// directly only in tests; in production this happens implicitly via the
// sessions table's ON DELETE CASCADE when DeleteSessionById runs.
func (s *Store) DeleteTasksBySessionId(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE parent_session_id = $1`, sessionID)
	return err
}
