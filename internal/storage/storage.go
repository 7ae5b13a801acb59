package storage

import (
	"context"
	"fmt"
	"time"

	"story-text-worker/internal/model"
)

const (
	contentTypeJSON = "application/json"
	contentCategory = "story-text"

	MetaStoryID         = "story-id"
	MetaUploadedAt      = "uploaded-at"
	MetaContentCategory = "content-category"
)

// BlobPublisher хранит сырые ответы генератора.
type BlobPublisher interface {
	// Publish сохраняет payload и возвращает локатор объекта.
	Publish(ctx context.Context, storyID, taskID string, taskType model.TaskType, payload []byte) (string, error)
	// Fetch читает объект по локатору, ранее возвращенному Publish.
	Fetch(ctx context.Context, locator string) ([]byte, error)
	// Locate возвращает локатор, который Publish выдал бы для этих параметров.
	Locate(storyID, taskID string, taskType model.TaskType) string
}

// ObjectKey returns "{storyId}/{taskId}_{taskType}.json".
func ObjectKey(storyID, taskID string, taskType model.TaskType) string {
	return fmt.Sprintf("%s/%s_%s.json", storyID, taskID, taskType)
}

func objectMetadata(storyID string, now time.Time) map[string]string {
	return map[string]string{
		MetaStoryID:         storyID,
		MetaUploadedAt:      now.UTC().Format(time.RFC3339),
		MetaContentCategory: contentCategory,
	}
}
