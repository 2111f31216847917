package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"melding/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// taskRow builds a scanFn producing one task row.
func taskRow(id string, status types.TaskStatus, retryCount int, resourceID string, at time.Time) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = string(status)
		*dest[2].(*int) = retryCount
		*dest[3].(*string) = resourceID
		*dest[4].(*time.Time) = at
		*dest[5].(*time.Time) = at
		return nil
	}
}

// taskMockRows implements pgx.Rows over task rows.
type taskMockRows struct {
	data   []*types.Task
	idx    int
	closed bool
	errVal error
}

func (r *taskMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx <= len(r.data)
}

func (r *taskMockRows) Scan(dest ...any) error {
	t := r.data[r.idx-1]
	*dest[0].(*string) = t.ID
	*dest[1].(*string) = string(t.Status)
	*dest[2].(*int) = t.RetryCount
	*dest[3].(*string) = t.ResourceID
	*dest[4].(*time.Time) = t.CreatedAt
	*dest[5].(*time.Time) = t.ModifiedAt
	return nil
}

func (r *taskMockRows) Close()                                        { r.closed = true }
func (r *taskMockRows) Err() error                                    { return r.errVal }
func (r *taskMockRows) CommandTag() pgconn.CommandTag                 { return pgconn.CommandTag{} }
func (r *taskMockRows) FieldDescriptions() []pgconn.FieldDescription  { return nil }
func (r *taskMockRows) RawValues() [][]byte                           { return nil }
func (r *taskMockRows) Values() ([]any, error)                        { return nil, nil }
func (r *taskMockRows) Conn() *pgx.Conn                               { return nil }

// --- TaskRepository Tests ---

func TestTaskRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)
	now := time.Now().UTC()

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: taskRow("task-1", types.TaskPending, 0, "res-1", now)})

	task, created, err := repo.Create(context.Background(), "res-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.TaskPending, task.Status)
	assert.Equal(t, "res-1", task.ResourceID)
	db.AssertExpectations(t)
}

func TestTaskRepository_Create_ConflictReturnsExisting(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)
	now := time.Now().UTC()

	// ON CONFLICT DO NOTHING: zero rows affected, the open task is fetched.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: taskRow("task-existing", types.TaskFailed, 2, "res-1", now)})

	task, created, err := repo.Create(context.Background(), "res-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "task-existing", task.ID)
	assert.Equal(t, types.TaskFailed, task.Status)
	db.AssertExpectations(t)
}

func TestTaskRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, _, err := repo.Create(context.Background(), "res-1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestTaskRepository_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.Get(context.Background(), "task-missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundTask, appErr.Code)
}

func TestTaskRepository_GetForResource_NoneIsNil(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	task, err := repo.GetForResource(context.Background(), "res-1")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestTaskRepository_UpdateStatus_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpdateStatus(context.Background(), "task-1", types.TaskSuccess, 1)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestTaskRepository_UpdateStatus_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdateStatus(context.Background(), "task-missing", types.TaskSuccess, 0)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundTask, appErr.Code)
}

func TestTaskRepository_ListPending(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)
	now := time.Now().UTC()

	rows := &taskMockRows{data: []*types.Task{
		{ID: "task-1", Status: types.TaskPending, ResourceID: "res-1", CreatedAt: now, ModifiedAt: now},
		{ID: "task-2", Status: types.TaskPending, ResourceID: "res-2", CreatedAt: now, ModifiedAt: now},
	}}
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	tasks, err := repo.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task-1", tasks[0].ID)
	assert.Equal(t, "task-2", tasks[1].ID)
	assert.True(t, rows.closed)
}

func TestTaskRepository_ListFailedForRetry_PassesBudget(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)
	now := time.Now().UTC()

	rows := &taskMockRows{data: []*types.Task{
		{ID: "task-1", Status: types.TaskFailed, RetryCount: 3, ResourceID: "res-1", CreatedAt: now, ModifiedAt: now},
	}}
	db.On("Query", mock.Anything, mock.AnythingOfType("string"),
		mock.MatchedBy(func(args []any) bool {
			return len(args) == 2 && args[1] == 10
		})).Return(rows, nil)

	tasks, err := repo.ListFailedForRetry(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 3, tasks[0].RetryCount)
	db.AssertExpectations(t)
}

func TestTaskRepository_ListPending_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.ListPending(context.Background())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
