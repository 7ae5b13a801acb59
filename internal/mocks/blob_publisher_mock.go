package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"story-text-worker/internal/model"
	"story-text-worker/internal/storage"
)

// MockBlobPublisher is a mock type for the BlobPublisher type
type MockBlobPublisher struct {
	mock.Mock
}

// Publish provides a mock function with given fields: ctx, storyID, taskID, taskType, payload
func (_m *MockBlobPublisher) Publish(ctx context.Context, storyID, taskID string, taskType model.TaskType, payload []byte) (string, error) {
	ret := _m.Called(ctx, storyID, taskID, taskType, payload)
	return ret.String(0), ret.Error(1)
}

// Fetch provides a mock function with given fields: ctx, locator
func (_m *MockBlobPublisher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	ret := _m.Called(ctx, locator)

	var r0 []byte
	if v := ret.Get(0); v != nil {
		r0 = v.([]byte)
	}
	return r0, ret.Error(1)
}

// Locate provides a mock function with given fields: storyID, taskID, taskType
func (_m *MockBlobPublisher) Locate(storyID, taskID string, taskType model.TaskType) string {
	ret := _m.Called(storyID, taskID, taskType)
	return ret.String(0)
}

// NewMockBlobPublisher creates a new instance of MockBlobPublisher. It also registers a testing interface on the mock.
func NewMockBlobPublisher(t interface {
	mock.TestingT
	Helper()
}) *MockBlobPublisher {
	m := &MockBlobPublisher{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ storage.BlobPublisher = (*MockBlobPublisher)(nil)
