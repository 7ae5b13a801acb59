package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"story-text-worker/internal/messaging"
	"story-text-worker/internal/model"
)

// MockTaskNotifier is a mock type for the TaskNotifier type
type MockTaskNotifier struct {
	mock.Mock
}

// NotifyTasksCreated provides a mock function with given fields: ctx, event
func (_m *MockTaskNotifier) NotifyTasksCreated(ctx context.Context, event model.TasksCreatedEvent) error {
	ret := _m.Called(ctx, event)
	return ret.Error(0)
}

// NewMockTaskNotifier creates a new instance of MockTaskNotifier. It also registers a testing interface on the mock.
func NewMockTaskNotifier(t interface {
	mock.TestingT
	Helper()
}) *MockTaskNotifier {
	m := &MockTaskNotifier{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ messaging.TaskNotifier = (*MockTaskNotifier)(nil)
