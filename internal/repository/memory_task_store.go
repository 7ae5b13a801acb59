package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"story-text-worker/internal/model"
)

// Compile-time check
var _ TaskRecordStore = (*MemoryTaskStore)(nil)

// MemoryTaskStore is an in-process TaskRecordStore used by tests and STORE_DRIVER=memory.
type MemoryTaskStore struct {
	mu       sync.RWMutex
	metadata map[string]*model.StoryMetadata
	tasks    map[string][]*model.VideoTask
	now      func() time.Time
}

// NewMemoryTaskStore creates an empty in-memory store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		metadata: make(map[string]*model.StoryMetadata),
		tasks:    make(map[string][]*model.VideoTask),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PutMetadata seeds a metadata record the way the upstream producer would.
func (s *MemoryTaskStore) PutMetadata(meta *model.StoryMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *meta
	s.metadata[meta.ID] = &cp
}

func (s *MemoryTaskStore) FindTextTask(_ context.Context, storyID string) (*model.VideoTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks[storyID] {
		if t.Type == model.TaskTypeText {
			return copyTask(t), nil
		}
	}
	return nil, nil
}

func (s *MemoryTaskStore) CreateTask(_ context.Context, task *model.VideoTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks[task.ID] {
		if task.Type == model.TaskTypeText && t.Type == model.TaskTypeText {
			return fmt.Errorf("story %s: %w", task.ID, model.ErrTaskAlreadyExists)
		}
		if t.TaskID == task.TaskID {
			return fmt.Errorf("%w: task %s of story %s already exists", model.ErrStoreWrite, task.TaskID, task.ID)
		}
	}
	s.tasks[task.ID] = append(s.tasks[task.ID], copyTask(task))
	return nil
}

func (s *MemoryTaskStore) BulkCreateTasks(_ context.Context, tasks []*model.VideoTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range chunkTasks(tasks, MaxBatchWriteSize) {
		for _, t := range chunk {
			s.tasks[t.ID] = append(s.tasks[t.ID], copyTask(t))
		}
	}
	return nil
}

func (s *MemoryTaskStore) UpdateTaskStatus(_ context.Context, storyID, taskID string, status model.TaskStatus, mediaURL *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks[storyID] {
		if t.TaskID != taskID {
			continue
		}
		t.Status = status
		t.DateUpdated = s.now()
		if status == model.TaskStatusCompleted {
			if mediaURL != nil {
				url := *mediaURL
				t.MediaURL = &url
			}
			t.PendingTaskID = nil
		}
		return nil
	}
	return fmt.Errorf("%w: update task %s status: %w", model.ErrStoreWrite, taskID, model.ErrNotFound)
}

func (s *MemoryTaskStore) ListTasks(_ context.Context, storyID string) ([]*model.VideoTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.VideoTask, 0, len(s.tasks[storyID]))
	for _, t := range s.tasks[storyID] {
		out = append(out, copyTask(t))
	}
	return out, nil
}

func (s *MemoryTaskStore) UpdateMetadataStatus(_ context.Context, storyID string, status model.StoryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := s.metadataLocked(storyID)
	meta.Status = status
	meta.DateUpdated = s.now()
	return nil
}

func (s *MemoryTaskStore) CompleteMetadata(_ context.Context, storyID string, taskIDsByType model.TaskIDsByType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := s.metadataLocked(storyID)
	meta.TaskIDsByType = make(model.TaskIDsByType, len(taskIDsByType))
	for k, ids := range taskIDsByType {
		meta.TaskIDsByType[k] = append([]string(nil), ids...)
	}
	meta.Status = model.StoryStatusCompleted
	meta.DateUpdated = s.now()
	return nil
}

func (s *MemoryTaskStore) GetMetadata(_ context.Context, storyID string) (*model.StoryMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.metadata[storyID]
	if !ok {
		return nil, fmt.Errorf("metadata of story %s: %w", storyID, model.ErrNotFound)
	}
	cp := *meta
	return &cp, nil
}

func (s *MemoryTaskStore) metadataLocked(storyID string) *model.StoryMetadata {
	meta, ok := s.metadata[storyID]
	if !ok {
		now := s.now()
		meta = &model.StoryMetadata{ID: storyID, DateCreated: now, DateUpdated: now}
		s.metadata[storyID] = meta
	}
	return meta
}

func copyTask(t *model.VideoTask) *model.VideoTask {
	cp := *t
	if t.SegmentIndex != nil {
		v := *t.SegmentIndex
		cp.SegmentIndex = &v
	}
	if t.MediaURL != nil {
		v := *t.MediaURL
		cp.MediaURL = &v
	}
	if t.PendingTaskID != nil {
		v := *t.PendingTaskID
		cp.PendingTaskID = &v
	}
	return &cp
}
