package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/newsroom-ai/newsroom/pkg/types"
)

// TaskStore handles task persistence and the exclusive-claim primitive.
type TaskStore struct {
	store *Store
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(store *Store) *TaskStore {
	return &TaskStore{store: store}
}

const taskColumns = `
	id, type, assigned_to, created_by, priority, status,
	input, output, error_message, parent_id,
	created_at, started_at, completed_at
`

// Create inserts a new pending task and returns its id.
func (ts *TaskStore) Create(task *types.Task) (string, error) {
	ts.store.mu.Lock()
	defer ts.store.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = types.TaskPending
	}
	if task.Priority == 0 {
		task.Priority = 5
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	_, err := ts.store.db.Exec(`
		INSERT INTO tasks (
			id, type, assigned_to, created_by, priority, status,
			input, parent_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID,
		string(task.Type),
		task.AssignedTo,
		task.CreatedBy,
		task.Priority,
		string(task.Status),
		rawOrNull(task.Input),
		task.ParentID,
		task.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	return task.ID, nil
}

// Get retrieves a task by ID. Returns (nil, nil) if it doesn't exist.
func (ts *TaskStore) Get(id string) (*types.Task, error) {
	ts.store.mu.RLock()
	defer ts.store.mu.RUnlock()

	row := ts.store.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return task, nil
}

// Update updates an existing task.
func (ts *TaskStore) Update(id string, update *types.TaskUpdate) error {
	ts.store.mu.Lock()
	defer ts.store.mu.Unlock()

	var setClauses []string
	var args []interface{}

	if update.Status != nil {
		setClauses = append(setClauses, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Priority != nil {
		setClauses = append(setClauses, "priority = ?")
		args = append(args, *update.Priority)
	}
	if update.Output != nil {
		setClauses = append(setClauses, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.ErrorMessage != nil {
		setClauses = append(setClauses, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.StartedAt != nil {
		setClauses = append(setClauses, "started_at = ?")
		args = append(args, update.StartedAt.UTC().Format(timeLayout))
	}
	if update.CompletedAt != nil {
		setClauses = append(setClauses, "completed_at = ?")
		args = append(args, update.CompletedAt.UTC().Format(timeLayout))
	}

	if len(setClauses) == 0 {
		return nil // Nothing to update
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = ?",
		strings.Join(setClauses, ", "))

	result, err := ts.store.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}

	return nil
}

// ClaimNext atomically claims up to maxBatch pending tasks for the agent,
// ordered by (priority ASC, created_at ASC). Each claim is a conditional
// update on status = 'pending', so concurrent dispatchers racing for the
// same pool never claim the same task twice: the loser sees zero rows.
func (ts *TaskStore) ClaimNext(agentName string, maxBatch int) ([]*types.Task, error) {
	ts.store.mu.Lock()
	defer ts.store.mu.Unlock()

	if maxBatch <= 0 {
		maxBatch = 1
	}

	rows, err := ts.store.db.Query(`
		SELECT id FROM tasks
		WHERE status = 'pending' AND assigned_to = ?
		ORDER BY priority ASC, created_at ASC
		LIMIT ?
	`, agentName, maxBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task id: %w", err)
		}
		candidates = append(candidates, id)
	}
	rows.Close()

	now := time.Now().UTC().Format(timeLayout)
	var claimed []*types.Task
	for _, id := range candidates {
		result, err := ts.store.db.Exec(`
			UPDATE tasks SET status = ?, started_at = ?
			WHERE id = ? AND status = 'pending'
		`, string(types.TaskInProgress), now, id)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim task %s: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			// Lost the race to another dispatcher; not an error.
			continue
		}

		row := ts.store.db.QueryRow(
			`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
		task, err := scanTask(row)
		if err != nil {
			return claimed, fmt.Errorf("failed to load claimed task %s: %w", id, err)
		}
		claimed = append(claimed, task)
	}

	return claimed, nil
}

// Complete transitions a task to completed. Idempotent: completing an
// already-terminal task is a no-op, reported via applied=false so callers
// can discard late (zombie) results.
func (ts *TaskStore) Complete(id string, output json.RawMessage) (bool, error) {
	return ts.finish(id, types.TaskCompleted, output, "")
}

// Fail transitions a task to failed. Same idempotency rules as Complete.
func (ts *TaskStore) Fail(id string, errorMessage string) (bool, error) {
	return ts.finish(id, types.TaskFailed, nil, errorMessage)
}

func (ts *TaskStore) finish(id string, status types.TaskStatus, output json.RawMessage, errorMessage string) (bool, error) {
	ts.store.mu.Lock()
	defer ts.store.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	result, err := ts.store.db.Exec(`
		UPDATE tasks SET status = ?, output = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = 'in_progress'
	`, string(status), rawOrNull(output), nullIfEmpty(errorMessage), now, id)
	if err != nil {
		return false, fmt.Errorf("failed to finish task: %w", err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		return true, nil
	}

	// Distinguish "already terminal" (no-op) from "unknown task" (error).
	var current string
	err = ts.store.db.QueryRow(`SELECT status FROM tasks WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("task not found: %s", id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check task status: %w", err)
	}
	return false, nil
}

// ForceFail transitions an in_progress task to failed regardless of who
// claimed it. Used by the stale sweep; a no-op when the task is not
// in_progress anymore.
func (ts *TaskStore) ForceFail(id string, errorMessage string) (bool, error) {
	ts.store.mu.Lock()
	defer ts.store.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	result, err := ts.store.db.Exec(`
		UPDATE tasks SET status = 'failed', error_message = ?, completed_at = ?
		WHERE id = ? AND status = 'in_progress'
	`, errorMessage, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to force-fail task: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ListInProgress returns all in_progress tasks, for the stale sweep.
func (ts *TaskStore) ListInProgress() ([]*types.Task, error) {
	return ts.List(&types.TaskFilter{Status: []types.TaskStatus{types.TaskInProgress}})
}

// List retrieves tasks matching the filter.
func (ts *TaskStore) List(filter *types.TaskFilter) ([]*types.Task, error) {
	ts.store.mu.RLock()
	defer ts.store.mu.RUnlock()

	where, args := taskFilterClauses(filter)

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority ASC, created_at ASC"
	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := ts.store.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// LatestCreated returns the newest created_at among tasks of the given
// type, or the zero time when none exist.
func (ts *TaskStore) LatestCreated(taskType types.TaskType) (time.Time, error) {
	ts.store.mu.RLock()
	defer ts.store.mu.RUnlock()

	var created sql.NullString
	err := ts.store.db.QueryRow(
		`SELECT MAX(created_at) FROM tasks WHERE type = ?`, string(taskType)).Scan(&created)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest task: %w", err)
	}
	if t, ok := parseNullTimestamp(created); ok {
		return t, nil
	}
	return time.Time{}, nil
}

// Count counts tasks matching the filter.
func (ts *TaskStore) Count(filter *types.TaskFilter) (int, error) {
	ts.store.mu.RLock()
	defer ts.store.mu.RUnlock()

	where, args := taskFilterClauses(filter)

	query := "SELECT COUNT(*) FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var count int
	if err := ts.store.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

func taskFilterClauses(filter *types.TaskFilter) ([]string, []interface{}) {
	var where []string
	var args []interface{}

	if filter == nil {
		return where, args
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.ParentID != nil {
		where = append(where, "parent_id = ?")
		args = append(args, *filter.ParentID)
	}
	return where, args
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*types.Task, error) {
	var task types.Task
	var taskType, status string
	var input, output, errorMsg, parentID sql.NullString
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(
		&task.ID,
		&taskType,
		&task.AssignedTo,
		&task.CreatedBy,
		&task.Priority,
		&status,
		&input,
		&output,
		&errorMsg,
		&parentID,
		&createdAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Type = types.TaskType(taskType)
	task.Status = types.TaskStatus(status)
	if input.Valid && input.String != "" {
		task.Input = json.RawMessage(input.String)
	}
	if output.Valid && output.String != "" {
		task.Output = json.RawMessage(output.String)
	}
	if errorMsg.Valid {
		task.ErrorMessage = errorMsg.String
	}
	if parentID.Valid {
		task.ParentID = &parentID.String
	}

	task.CreatedAt = parseTimestamp(createdAt)
	if t, ok := parseNullTimestamp(startedAt); ok {
		task.StartedAt = &t
	}
	if t, ok := parseNullTimestamp(completedAt); ok {
		task.CompletedAt = &t
	}

	return &task, nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTimestamp(ns sql.NullString) (time.Time, bool) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func rawOrNull(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
