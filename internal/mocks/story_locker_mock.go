package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"story-text-worker/internal/repository"
)

// MockStoryLocker is a mock type for the StoryLocker type
type MockStoryLocker struct {
	mock.Mock
}

// Acquire provides a mock function with given fields: ctx, storyID
func (_m *MockStoryLocker) Acquire(ctx context.Context, storyID string) (repository.ReleaseFunc, error) {
	ret := _m.Called(ctx, storyID)

	var r0 repository.ReleaseFunc
	if v := ret.Get(0); v != nil {
		r0 = v.(repository.ReleaseFunc)
	}
	return r0, ret.Error(1)
}

// NewMockStoryLocker creates a new instance of MockStoryLocker. It also registers a testing interface on the mock.
func NewMockStoryLocker(t interface {
	mock.TestingT
	Helper()
}) *MockStoryLocker {
	m := &MockStoryLocker{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.StoryLocker = (*MockStoryLocker)(nil)
