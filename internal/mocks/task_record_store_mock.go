package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"story-text-worker/internal/model"
	"story-text-worker/internal/repository"
)

// MockTaskRecordStore is a mock type for the TaskRecordStore type
type MockTaskRecordStore struct {
	mock.Mock
}

// FindTextTask provides a mock function with given fields: ctx, storyID
func (_m *MockTaskRecordStore) FindTextTask(ctx context.Context, storyID string) (*model.VideoTask, error) {
	ret := _m.Called(ctx, storyID)

	var r0 *model.VideoTask
	if v := ret.Get(0); v != nil {
		r0 = v.(*model.VideoTask)
	}
	return r0, ret.Error(1)
}

// CreateTask provides a mock function with given fields: ctx, task
func (_m *MockTaskRecordStore) CreateTask(ctx context.Context, task *model.VideoTask) error {
	ret := _m.Called(ctx, task)
	return ret.Error(0)
}

// BulkCreateTasks provides a mock function with given fields: ctx, tasks
func (_m *MockTaskRecordStore) BulkCreateTasks(ctx context.Context, tasks []*model.VideoTask) error {
	ret := _m.Called(ctx, tasks)
	return ret.Error(0)
}

// UpdateTaskStatus provides a mock function with given fields: ctx, storyID, taskID, status, mediaURL
func (_m *MockTaskRecordStore) UpdateTaskStatus(ctx context.Context, storyID, taskID string, status model.TaskStatus, mediaURL *string) error {
	ret := _m.Called(ctx, storyID, taskID, status, mediaURL)
	return ret.Error(0)
}

// ListTasks provides a mock function with given fields: ctx, storyID
func (_m *MockTaskRecordStore) ListTasks(ctx context.Context, storyID string) ([]*model.VideoTask, error) {
	ret := _m.Called(ctx, storyID)

	var r0 []*model.VideoTask
	if v := ret.Get(0); v != nil {
		r0 = v.([]*model.VideoTask)
	}
	return r0, ret.Error(1)
}

// UpdateMetadataStatus provides a mock function with given fields: ctx, storyID, status
func (_m *MockTaskRecordStore) UpdateMetadataStatus(ctx context.Context, storyID string, status model.StoryStatus) error {
	ret := _m.Called(ctx, storyID, status)
	return ret.Error(0)
}

// CompleteMetadata provides a mock function with given fields: ctx, storyID, taskIDsByType
func (_m *MockTaskRecordStore) CompleteMetadata(ctx context.Context, storyID string, taskIDsByType model.TaskIDsByType) error {
	ret := _m.Called(ctx, storyID, taskIDsByType)
	return ret.Error(0)
}

// GetMetadata provides a mock function with given fields: ctx, storyID
func (_m *MockTaskRecordStore) GetMetadata(ctx context.Context, storyID string) (*model.StoryMetadata, error) {
	ret := _m.Called(ctx, storyID)

	var r0 *model.StoryMetadata
	if v := ret.Get(0); v != nil {
		r0 = v.(*model.StoryMetadata)
	}
	return r0, ret.Error(1)
}

// NewMockTaskRecordStore creates a new instance of MockTaskRecordStore. It also registers a testing interface on the mock.
func NewMockTaskRecordStore(t interface {
	mock.TestingT
	Helper()
}) *MockTaskRecordStore {
	m := &MockTaskRecordStore{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.TaskRecordStore = (*MockTaskRecordStore)(nil)
