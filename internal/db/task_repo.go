package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"melding/internal/types"
)

// TaskRepository provides data access for the tasks table.
//
// The tasks table carries a partial unique index on resource_id restricted to
// non-terminal statuses:
//
//	CREATE UNIQUE INDEX uq_task_open_resource ON tasks (resource_id)
//	WHERE status IN ('pending', 'failed');
//
// Create relies on it via ON CONFLICT DO NOTHING, so the orchestrator's
// lookup-before-create idempotency check is backed by a store-level guarantee
// rather than being a pure race-prone read-then-write.
type TaskRepository struct {
	db DBTX
}

// NewTaskRepository creates a new TaskRepository backed by the given database
// connection (pool or transaction).
func NewTaskRepository(db DBTX) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a new pending task for the given resource and returns it.
// If an open (pending or failed) task already exists for the resource, no row
// is inserted and created=false is returned alongside the existing task.
func (r *TaskRepository) Create(ctx context.Context, resourceID string) (task *types.Task, created bool, err error) {
	id := uuid.New().String()

	tag, err := r.db.Exec(ctx,
		`INSERT INTO tasks (id, status, retry_count, resource_id, created_at, modified_at)
		 VALUES ($1, $2, 0, $3, NOW(), NOW())
		 ON CONFLICT DO NOTHING`,
		id,
		string(types.TaskPending),
		resourceID,
	)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to create task", err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := r.GetForResource(ctx, resourceID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	inserted, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return inserted, true, nil
}

// Get retrieves a task by its ID.
func (r *TaskRepository) Get(ctx context.Context, id string) (*types.Task, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, status, retry_count, resource_id, created_at, modified_at
		 FROM tasks WHERE id = $1`,
		id,
	)
	return scanTask(row)
}

// GetForResource retrieves the task covering the given resource, or nil when
// none exists. When both a terminal and an open task exist for the resource
// (a resubmission after exhausted retries), the most recent one wins.
func (r *TaskRepository) GetForResource(ctx context.Context, resourceID string) (*types.Task, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, status, retry_count, resource_id, created_at, modified_at
		 FROM tasks WHERE resource_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		resourceID,
	)
	task, err := scanTask(row)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundTask {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

// UpdateStatus sets a task's status and retry count and bumps modified_at.
// The update is a single-statement read-modify-write with last-writer-wins
// semantics: a sweep and a late retry timer racing on the same task both
// converge on the store's final state.
func (r *TaskRepository) UpdateStatus(ctx context.Context, id string, status types.TaskStatus, retryCount int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE tasks SET status = $1, retry_count = $2, modified_at = NOW()
		 WHERE id = $3`,
		string(status),
		retryCount,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update task", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
	}
	return nil
}

// ListPending returns all tasks currently in pending status, oldest first.
// The sweeper uses this to recover tasks whose in-memory retry timer was lost
// to a restart.
func (r *TaskRepository) ListPending(ctx context.Context) ([]*types.Task, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, status, retry_count, resource_id, created_at, modified_at
		 FROM tasks WHERE status = $1
		 ORDER BY created_at`,
		string(types.TaskPending),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending tasks", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListFailedForRetry returns failed tasks that still have retry budget left,
// oldest first. Tasks at or past maxAttempts are excluded: those are terminal
// and owned by operators.
func (r *TaskRepository) ListFailedForRetry(ctx context.Context, maxAttempts int) ([]*types.Task, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, status, retry_count, resource_id, created_at, modified_at
		 FROM tasks WHERE status = $1 AND retry_count < $2
		 ORDER BY created_at`,
		string(types.TaskFailed),
		maxAttempts,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list failed tasks", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// scanTask reads a single task row, mapping pgx.ErrNoRows to a not-found
// AppError.
func scanTask(row pgx.Row) (*types.Task, error) {
	var t types.Task
	var status string
	err := row.Scan(&t.ID, &status, &t.RetryCount, &t.ResourceID, &t.CreatedAt, &t.ModifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTask, "task not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan task", err)
	}
	t.Status = types.TaskStatus(status)
	return &t, nil
}

func scanTasks(rows pgx.Rows) ([]*types.Task, error) {
	var tasks []*types.Task
	for rows.Next() {
		var t types.Task
		var status string
		if err := rows.Scan(&t.ID, &status, &t.RetryCount, &t.ResourceID, &t.CreatedAt, &t.ModifiedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan task row", err)
		}
		t.Status = types.TaskStatus(status)
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "task row iteration failed", err)
	}
	return tasks, nil
}
