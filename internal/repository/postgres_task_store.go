package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"story-text-worker/internal/model"
)

// Compile-time check
var _ TaskRecordStore = (*pgTaskStore)(nil)

// DBTX: подмножество pgxpool.Pool, которое нужно хранилищу.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type pgTaskStore struct {
	db            DBTX
	metadataTable string
	tasksTable    string
	logger        *zap.Logger
	now           func() time.Time
}

// NewPgTaskStore creates a Postgres-backed TaskRecordStore. Table names may be schema
// qualified ("stories.video_tasks") and are quoted before use.
func NewPgTaskStore(db DBTX, metadataTable, tasksTable string, logger *zap.Logger) TaskRecordStore {
	return &pgTaskStore{
		db:            db,
		metadataTable: quoteTable(metadataTable),
		tasksTable:    quoteTable(tasksTable),
		logger:        logger.Named("PgTaskStore"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

const taskColumns = `id, task_id, type, status, source_prompt, segment_index, media_url, pending_task_id, date_created, date_updated`

func (s *pgTaskStore) insertTaskSQL(onConflictDoNothing bool) string {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, s.tasksTable, taskColumns)
	if onConflictDoNothing {
		query += ` ON CONFLICT DO NOTHING`
	}
	return query
}

func taskArgs(t *model.VideoTask) []any {
	return []any{
		t.ID, t.TaskID, string(t.Type), string(t.Status), t.SourcePrompt,
		t.SegmentIndex, t.MediaURL, t.PendingTaskID, t.DateCreated, t.DateUpdated,
	}
}

// FindTextTask returns the story's TEXT task, or nil when there is none.
func (s *pgTaskStore) FindTextTask(ctx context.Context, storyID string) (*model.VideoTask, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND type = $2 LIMIT 1`, taskColumns, s.tasksTable)

	var task model.VideoTask
	if err := pgxscan.Get(ctx, s.db, &task, query, storyID, string(model.TaskTypeText)); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		s.logger.Error("Failed to query text task", zap.String("story_id", storyID), zap.Error(err))
		return nil, fmt.Errorf("%w: find text task for story %s: %v", model.ErrStoreRead, storyID, err)
	}
	return &task, nil
}

// CreateTask inserts a task. The insert is conditional, so a concurrent second TEXT task
// for the same story is rejected by the unique partial index instead of being written.
func (s *pgTaskStore) CreateTask(ctx context.Context, task *model.VideoTask) error {
	tag, err := s.db.Exec(ctx, s.insertTaskSQL(true), taskArgs(task)...)
	if err != nil {
		s.logger.Error("Failed to insert task",
			zap.String("story_id", task.ID), zap.String("task_id", task.TaskID), zap.Error(err))
		return fmt.Errorf("%w: create task %s: %v", model.ErrStoreWrite, task.TaskID, err)
	}
	if tag.RowsAffected() == 0 {
		if task.Type == model.TaskTypeText {
			return fmt.Errorf("story %s: %w", task.ID, model.ErrTaskAlreadyExists)
		}
		return fmt.Errorf("%w: task %s of story %s already exists", model.ErrStoreWrite, task.TaskID, task.ID)
	}
	return nil
}

// BulkCreateTasks sends one pgx.Batch per chunk. A batch runs in a single implicit
// transaction, so a failed chunk leaves no rows of its own behind; earlier chunks stay.
func (s *pgTaskStore) BulkCreateTasks(ctx context.Context, tasks []*model.VideoTask) error {
	insert := s.insertTaskSQL(false)
	chunks := chunkTasks(tasks, MaxBatchWriteSize)

	for i, chunk := range chunks {
		batch := &pgx.Batch{}
		for _, t := range chunk {
			batch.Queue(insert, taskArgs(t)...)
		}
		if err := s.execBatch(ctx, batch); err != nil {
			s.logger.Error("Bulk insert chunk failed",
				zap.Int("chunk", i+1), zap.Int("chunks", len(chunks)), zap.Int("chunk_size", len(chunk)), zap.Error(err))
			return fmt.Errorf("%w: bulk create chunk %d/%d: %v", model.ErrStoreWrite, i+1, len(chunks), err)
		}
	}
	return nil
}

func (s *pgTaskStore) execBatch(ctx context.Context, batch *pgx.Batch) (err error) {
	results := s.db.SendBatch(ctx, batch)
	defer func() {
		if closeErr := results.Close(); err == nil {
			err = closeErr
		}
	}()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

// UpdateTaskStatus sets status and dateUpdated. COMPLETED also sets mediaUrl when given
// and clears pendingTaskId.
func (s *pgTaskStore) UpdateTaskStatus(ctx context.Context, storyID, taskID string, status model.TaskStatus, mediaURL *string) error {
	var query string
	args := []any{storyID, taskID, string(status), s.now()}
	if status == model.TaskStatusCompleted {
		query = fmt.Sprintf(`UPDATE %s SET status = $3, date_updated = $4, media_url = COALESCE($5, media_url), pending_task_id = NULL
			WHERE id = $1 AND task_id = $2`, s.tasksTable)
		args = append(args, mediaURL)
	} else {
		query = fmt.Sprintf(`UPDATE %s SET status = $3, date_updated = $4 WHERE id = $1 AND task_id = $2`, s.tasksTable)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to update task status",
			zap.String("story_id", storyID), zap.String("task_id", taskID), zap.String("status", string(status)), zap.Error(err))
		return fmt.Errorf("%w: update task %s status: %v", model.ErrStoreWrite, taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: update task %s status: %w", model.ErrStoreWrite, taskID, model.ErrNotFound)
	}
	return nil
}

// ListTasks returns every task of the story, TEXT first, then by segment.
func (s *pgTaskStore) ListTasks(ctx context.Context, storyID string) ([]*model.VideoTask, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1
		ORDER BY segment_index NULLS FIRST, type, date_created, task_id`, taskColumns, s.tasksTable)

	var tasks []*model.VideoTask
	if err := pgxscan.Select(ctx, s.db, &tasks, query, storyID); err != nil {
		s.logger.Error("Failed to list tasks", zap.String("story_id", storyID), zap.Error(err))
		return nil, fmt.Errorf("%w: list tasks of story %s: %v", model.ErrStoreRead, storyID, err)
	}
	return tasks, nil
}

// UpdateMetadataStatus touches only status and dateUpdated. Like an item update in a
// key-value store it creates the row when it does not exist yet.
func (s *pgTaskStore) UpdateMetadataStatus(ctx context.Context, storyID string, status model.StoryStatus) error {
	now := s.now()
	query := fmt.Sprintf(`INSERT INTO %s (id, status, date_created, date_updated) VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, date_updated = EXCLUDED.date_updated`, s.metadataTable)

	if _, err := s.db.Exec(ctx, query, storyID, string(status), now); err != nil {
		s.logger.Error("Failed to update story status",
			zap.String("story_id", storyID), zap.String("status", string(status)), zap.Error(err))
		return fmt.Errorf("%w: update metadata %s status: %v", model.ErrStoreWrite, storyID, err)
	}
	return nil
}

// CompleteMetadata writes taskIdsByType and COMPLETED in one statement.
func (s *pgTaskStore) CompleteMetadata(ctx context.Context, storyID string, taskIDsByType model.TaskIDsByType) error {
	payload, err := json.Marshal(taskIDsByType)
	if err != nil {
		return fmt.Errorf("%w: encode task ids of story %s: %v", model.ErrStoreWrite, storyID, err)
	}

	now := s.now()
	query := fmt.Sprintf(`INSERT INTO %s (id, status, date_created, date_updated, task_ids_by_type) VALUES ($1, $2, $3, $3, $4::jsonb)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, date_updated = EXCLUDED.date_updated,
		task_ids_by_type = EXCLUDED.task_ids_by_type`, s.metadataTable)

	if _, err := s.db.Exec(ctx, query, storyID, string(model.StoryStatusCompleted), now, string(payload)); err != nil {
		s.logger.Error("Failed to complete story metadata", zap.String("story_id", storyID), zap.Error(err))
		return fmt.Errorf("%w: complete metadata %s: %v", model.ErrStoreWrite, storyID, err)
	}
	return nil
}

// GetMetadata returns the story metadata or model.ErrNotFound.
func (s *pgTaskStore) GetMetadata(ctx context.Context, storyID string) (*model.StoryMetadata, error) {
	query := fmt.Sprintf(`SELECT id, created_by, status, date_created, date_updated, task_ids_by_type FROM %s WHERE id = $1`, s.metadataTable)

	var meta model.StoryMetadata
	if err := pgxscan.Get(ctx, s.db, &meta, query, storyID); err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("metadata of story %s: %w", storyID, model.ErrNotFound)
		}
		s.logger.Error("Failed to get story metadata", zap.String("story_id", storyID), zap.Error(err))
		return nil, fmt.Errorf("%w: get metadata %s: %v", model.ErrStoreRead, storyID, err)
	}
	return &meta, nil
}
