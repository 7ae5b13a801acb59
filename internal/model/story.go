package model

import "time"

// StoryStatus статус метаданных истории.
type StoryStatus string

const (
	StoryStatusPending        StoryStatus = "PENDING"
	StoryStatusInProgress     StoryStatus = "IN_PROGRESS"
	StoryStatusPostProcessing StoryStatus = "POST_PROCESSING" // reserved
	StoryStatusCompleted      StoryStatus = "COMPLETED"
	StoryStatusFailed         StoryStatus = "FAILED"
)

// IsTerminal reports whether no further transition is expected.
func (s StoryStatus) IsTerminal() bool {
	return s == StoryStatusCompleted || s == StoryStatusFailed
}

// TaskIDsByType maps a task type to the ordered ids of tasks of that type.
// Only types that were actually produced are present.
type TaskIDsByType map[TaskType][]string

// StoryMetadata is the per-story record created upstream and advanced by this worker.
type StoryMetadata struct {
	ID            string        `db:"id" json:"id"`
	CreatedBy     string        `db:"created_by" json:"createdBy"`
	Status        StoryStatus   `db:"status" json:"status"`
	DateCreated   time.Time     `db:"date_created" json:"dateCreated"`
	DateUpdated   time.Time     `db:"date_updated" json:"dateUpdated"`
	TaskIDsByType TaskIDsByType `db:"task_ids_by_type" json:"taskIdsByType,omitempty"`
}
