package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-text-worker/internal/model"
	"story-text-worker/internal/repository"
)

func TestMemoryTaskStore_TextTaskIsUnique(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryTaskStore()
	now := time.Now()

	found, err := store.FindTextTask(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, found)

	first := model.NewVideoTask("s1", model.TaskTypeText, model.TaskStatusInProgress, "a fox", now)
	require.NoError(t, store.CreateTask(ctx, first))

	second := model.NewVideoTask("s1", model.TaskTypeText, model.TaskStatusInProgress, "a fox", now)
	err = store.CreateTask(ctx, second)
	assert.ErrorIs(t, err, model.ErrTaskAlreadyExists)

	found, err = store.FindTextTask(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.TaskID, found.TaskID)

	// Другие истории не затронуты
	other := model.NewVideoTask("s2", model.TaskTypeText, model.TaskStatusInProgress, "an owl", now)
	assert.NoError(t, store.CreateTask(ctx, other))
}

func TestMemoryTaskStore_UpdateTaskStatus(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryTaskStore()
	task := model.NewVideoTask("s1", model.TaskTypeText, model.TaskStatusInProgress, "a fox", time.Now())
	require.NoError(t, store.CreateTask(ctx, task))
	require.NotNil(t, task.PendingTaskID)

	require.NoError(t, store.UpdateTaskStatus(ctx, "s1", task.TaskID, model.TaskStatusFailed, nil))
	tasks, err := store.ListTasks(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskStatusFailed, tasks[0].Status)
	assert.NotNil(t, tasks[0].PendingTaskID)
	assert.Nil(t, tasks[0].MediaURL)

	url := "s3://bucket/s1/" + task.TaskID + "_TEXT.json"
	require.NoError(t, store.UpdateTaskStatus(ctx, "s1", task.TaskID, model.TaskStatusCompleted, &url))
	tasks, err = store.ListTasks(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, tasks[0].Status)
	assert.Nil(t, tasks[0].PendingTaskID)
	require.NotNil(t, tasks[0].MediaURL)
	assert.Equal(t, url, *tasks[0].MediaURL)

	err = store.UpdateTaskStatus(ctx, "s1", "missing", model.TaskStatusCompleted, nil)
	assert.ErrorIs(t, err, model.ErrStoreWrite)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryTaskStore_Metadata(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryTaskStore()

	_, err := store.GetMetadata(ctx, "s1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.PutMetadata(&model.StoryMetadata{ID: "s1", CreatedBy: "user-1", Status: model.StoryStatusPending, DateCreated: created, DateUpdated: created})

	require.NoError(t, store.UpdateMetadataStatus(ctx, "s1", model.StoryStatusInProgress))
	meta, err := store.GetMetadata(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StoryStatusInProgress, meta.Status)
	assert.Equal(t, "user-1", meta.CreatedBy)
	assert.Equal(t, created, meta.DateCreated)
	assert.True(t, meta.DateUpdated.After(created))
	assert.Nil(t, meta.TaskIDsByType)

	ids := model.TaskIDsByType{model.TaskTypeText: {"t0"}, model.TaskTypeTTS: {"t1", "t3"}, model.TaskTypeImage: {"t2", "t4"}}
	require.NoError(t, store.CompleteMetadata(ctx, "s1", ids))
	meta, err = store.GetMetadata(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StoryStatusCompleted, meta.Status)
	assert.Equal(t, ids, meta.TaskIDsByType)
}

func TestMemoryTaskStore_BulkCreateKeepsOrder(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryTaskStore()
	now := time.Now()

	var tasks []*model.VideoTask
	for i := 0; i < 30; i++ {
		tasks = append(tasks, model.NewVideoTask("s1", model.TaskTypeTTS, model.TaskStatusPending, "x", now))
	}
	require.NoError(t, store.BulkCreateTasks(ctx, tasks))

	stored, err := store.ListTasks(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, stored, 30)
	for i := range tasks {
		assert.Equal(t, tasks[i].TaskID, stored[i].TaskID)
	}
}
