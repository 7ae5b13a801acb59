package repository_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-text-worker/internal/model"
	"story-text-worker/internal/repository"
)

type execCall struct {
	sql  string
	args []any
}

// fakeDB records statements instead of talking to PostgreSQL.
type fakeDB struct {
	execs       []execCall
	execTag     string
	execErr     error
	batches     [][]*pgx.QueuedQuery
	failBatchAt int // 1-based, 0 = never
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag(f.execTag), nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batches = append(f.batches, b.QueuedQueries)
	res := &fakeBatchResults{}
	if f.failBatchAt == len(f.batches) {
		res.err = errors.New("provisioned throughput exceeded")
	}
	return res
}

type fakeBatchResults struct {
	err error
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (r *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (r *fakeBatchResults) Close() error             { return nil }

func fanOutTasks(n int) []*model.VideoTask {
	now := time.Now()
	tasks := make([]*model.VideoTask, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, model.NewVideoTask("s1", model.TaskTypeTTS, model.TaskStatusPending, fmt.Sprintf("segment %d", i), now))
	}
	return tasks
}

func TestPgTaskStore_BulkCreateTasks_Chunks(t *testing.T) {
	db := &fakeDB{}
	store := repository.NewPgTaskStore(db, "story_metadata", "video_tasks", zap.NewNop())
	tasks := fanOutTasks(40)

	require.NoError(t, store.BulkCreateTasks(context.Background(), tasks))

	require.Len(t, db.batches, 2)
	assert.Len(t, db.batches[0], 25)
	assert.Len(t, db.batches[1], 15)

	var sent []string
	for _, batch := range db.batches {
		for _, q := range batch {
			assert.Contains(t, q.SQL, `INSERT INTO "video_tasks"`)
			sent = append(sent, q.Arguments[1].(string))
		}
	}
	for i, task := range tasks {
		assert.Equal(t, task.TaskID, sent[i], "task %d out of order", i)
	}
}

func TestPgTaskStore_BulkCreateTasks_AbortsOnChunkFailure(t *testing.T) {
	db := &fakeDB{failBatchAt: 2}
	store := repository.NewPgTaskStore(db, "story_metadata", "video_tasks", zap.NewNop())

	err := store.BulkCreateTasks(context.Background(), fanOutTasks(60))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrStoreWrite)
	assert.Contains(t, err.Error(), "chunk 2/3")
	assert.Len(t, db.batches, 2, "remaining chunks must not be sent")
}

func TestPgTaskStore_BulkCreateTasks_Empty(t *testing.T) {
	db := &fakeDB{}
	store := repository.NewPgTaskStore(db, "story_metadata", "video_tasks", zap.NewNop())

	require.NoError(t, store.BulkCreateTasks(context.Background(), nil))
	assert.Empty(t, db.batches)
}

func TestPgTaskStore_CreateTask(t *testing.T) {
	text := model.NewVideoTask("s1", model.TaskTypeText, model.TaskStatusInProgress, "a fox", time.Now())

	t.Run("inserted", func(t *testing.T) {
		db := &fakeDB{execTag: "INSERT 0 1"}
		store := repository.NewPgTaskStore(db, "story_metadata", "video_tasks", zap.NewNop())
		require.NoError(t, store.CreateTask(context.Background(), text))
		require.Len(t, db.execs, 1)
		assert.Contains(t, db.execs[0].sql, "ON CONFLICT DO NOTHING")
		assert.Equal(t, "TEXT", db.execs[0].args[2])
	})

	t.Run("conflicting text task", func(t *testing.T) {
		db := &fakeDB{execTag: "INSERT 0 0"}
		store := repository.NewPgTaskStore(db, "story_metadata", "video_tasks", zap.NewNop())
		err := store.CreateTask(context.Background(), text)
		assert.ErrorIs(t, err, model.ErrTaskAlreadyExists)
		assert.NotErrorIs(t, err, model.ErrStoreWrite)
	})

	t.Run("backend failure", func(t *testing.T) {
		db := &fakeDB{execErr: errors.New("connection reset")}
		store := repository.NewPgTaskStore(db, "story_metadata", "video_tasks", zap.NewNop())
		err := store.CreateTask(context.Background(), text)
		assert.ErrorIs(t, err, model.ErrStoreWrite)
	})
}

func TestPgTaskStore_UpdateTaskStatus(t *testing.T) {
	url := "s3://bucket/s1/t1_TEXT.json"

	t.Run("completed clears pending task id", func(t *testing.T) {
		db := &fakeDB{execTag: "UPDATE 1"}
		store := repository.NewPgTaskStore(db, "story_metadata", "video_tasks", zap.NewNop())
		require.NoError(t, store.UpdateTaskStatus(context.Background(), "s1", "t1", model.TaskStatusCompleted, &url))
		require.Len(t, db.execs, 1)
		assert.Contains(t, db.execs[0].sql, "pending_task_id = NULL")
		assert.Contains(t, db.execs[0].sql, "media_url")
		assert.Equal(t, &url, db.execs[0].args[4])
	})

	t.Run("failed keeps media url untouched", func(t *testing.T) {
		db := &fakeDB{execTag: "UPDATE 1"}
		store := repository.NewPgTaskStore(db, "story_metadata", "video_tasks", zap.NewNop())
		require.NoError(t, store.UpdateTaskStatus(context.Background(), "s1", "t1", model.TaskStatusFailed, nil))
		assert.NotContains(t, db.execs[0].sql, "media_url")
		assert.NotContains(t, db.execs[0].sql, "pending_task_id")
	})

	t.Run("missing task", func(t *testing.T) {
		db := &fakeDB{execTag: "UPDATE 0"}
		store := repository.NewPgTaskStore(db, "story_metadata", "video_tasks", zap.NewNop())
		err := store.UpdateTaskStatus(context.Background(), "s1", "t1", model.TaskStatusCompleted, nil)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestPgTaskStore_CompleteMetadataIsSingleStatement(t *testing.T) {
	db := &fakeDB{execTag: "INSERT 0 1"}
	store := repository.NewPgTaskStore(db, "stories.story_metadata", "stories.video_tasks", zap.NewNop())

	ids := model.TaskIDsByType{model.TaskTypeText: {"t0"}, model.TaskTypeTTS: {"t1"}, model.TaskTypeImage: {"t2"}}
	require.NoError(t, store.CompleteMetadata(context.Background(), "s1", ids))

	require.Len(t, db.execs, 1)
	sql := db.execs[0].sql
	assert.Contains(t, sql, `"stories"."story_metadata"`)
	assert.Contains(t, sql, "task_ids_by_type")
	assert.Equal(t, "COMPLETED", db.execs[0].args[1])
	assert.True(t, strings.Contains(db.execs[0].args[3].(string), `"TTS":["t1"]`))
}
