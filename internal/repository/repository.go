package repository

import (
	"context"

	"story-text-worker/internal/model"
)

// MaxBatchWriteSize: максимальный размер одного чанка массовой записи задач.
const MaxBatchWriteSize = 25

// TaskRecordStore определяет методы для работы с метаданными историй и их задачами.
type TaskRecordStore interface {
	// --- Tasks ---
	// FindTextTask возвращает TEXT-задачу истории или nil, если ее нет.
	FindTextTask(ctx context.Context, storyID string) (*model.VideoTask, error)
	// CreateTask вставляет задачу. Вторая TEXT-задача той же истории отклоняется
	// с model.ErrTaskAlreadyExists.
	CreateTask(ctx context.Context, task *model.VideoTask) error
	// BulkCreateTasks вставляет задачи чанками по MaxBatchWriteSize строго по порядку.
	// Ошибка чанка прерывает запись; предыдущие чанки не откатываются.
	BulkCreateTasks(ctx context.Context, tasks []*model.VideoTask) error
	// UpdateTaskStatus меняет статус задачи. Для COMPLETED также проставляет mediaURL
	// (если передан) и удаляет pendingTaskId.
	UpdateTaskStatus(ctx context.Context, storyID, taskID string, status model.TaskStatus, mediaURL *string) error
	// ListTasks возвращает все задачи истории.
	ListTasks(ctx context.Context, storyID string) ([]*model.VideoTask, error)

	// --- Metadata ---
	// UpdateMetadataStatus меняет только статус и dateUpdated.
	UpdateMetadataStatus(ctx context.Context, storyID string, status model.StoryStatus) error
	// CompleteMetadata одной записью проставляет taskIdsByType и статус COMPLETED.
	CompleteMetadata(ctx context.Context, storyID string, taskIDsByType model.TaskIDsByType) error
	// GetMetadata возвращает метаданные истории или ошибку model.ErrNotFound.
	GetMetadata(ctx context.Context, storyID string) (*model.StoryMetadata, error)
}

// ReleaseFunc освобождает блокировку истории.
type ReleaseFunc func(ctx context.Context) error

// StoryLocker сериализует обработку одной истории между воркерами.
type StoryLocker interface {
	// Acquire возвращает model.ErrStoryLocked, если история уже обрабатывается.
	Acquire(ctx context.Context, storyID string) (ReleaseFunc, error)
}

// chunkTasks splits tasks into consecutive slices of at most size elements.
func chunkTasks(tasks []*model.VideoTask, size int) [][]*model.VideoTask {
	var chunks [][]*model.VideoTask
	for start := 0; start < len(tasks); start += size {
		end := start + size
		if end > len(tasks) {
			end = len(tasks)
		}
		chunks = append(chunks, tasks[start:end])
	}
	return chunks
}
