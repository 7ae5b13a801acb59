package model

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// TaskType тип производной задачи истории.
type TaskType string

const (
	TaskTypeText     TaskType = "TEXT"
	TaskTypeTTS      TaskType = "TTS"
	TaskTypeImage    TaskType = "IMAGE"
	TaskTypeSubtitle TaskType = "SUBTITLE"
)

// TaskStatus статус производной задачи.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// VideoTask is one unit of derivative work belonging to a story.
// ID is the parent story id; TaskID is unique within the story.
type VideoTask struct {
	ID            string     `db:"id" json:"id"`
	TaskID        string     `db:"task_id" json:"taskId"`
	Type          TaskType   `db:"type" json:"type"`
	Status        TaskStatus `db:"status" json:"status"`
	SourcePrompt  string     `db:"source_prompt" json:"sourcePrompt"`
	SegmentIndex  *int       `db:"segment_index" json:"segmentIndex,omitempty"`
	MediaURL      *string    `db:"media_url" json:"mediaUrl,omitempty"`
	PendingTaskID *string    `db:"pending_task_id" json:"pendingTaskId,omitempty"`
	DateCreated   time.Time  `db:"date_created" json:"dateCreated"`
	DateUpdated   time.Time  `db:"date_updated" json:"dateUpdated"`
}

// NewTaskID returns a random 32-character hex token.
func NewTaskID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// NewVideoTask builds a task that has not been completed yet: pendingTaskId mirrors
// the task id until the task reaches COMPLETED.
func NewVideoTask(storyID string, taskType TaskType, status TaskStatus, sourcePrompt string, now time.Time) *VideoTask {
	taskID := NewTaskID()
	pending := taskID
	return &VideoTask{
		ID:            storyID,
		TaskID:        taskID,
		Type:          taskType,
		Status:        status,
		SourcePrompt:  sourcePrompt,
		PendingTaskID: &pending,
		DateCreated:   now,
		DateUpdated:   now,
	}
}

// GroupTaskIDs builds the completion summary from tasks in the order given.
func GroupTaskIDs(tasks []*VideoTask) TaskIDsByType {
	grouped := make(TaskIDsByType)
	for _, t := range tasks {
		grouped[t.Type] = append(grouped[t.Type], t.TaskID)
	}
	return grouped
}
