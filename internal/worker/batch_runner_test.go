package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-text-worker/internal/model"
	"story-text-worker/internal/worker"
)

func storyRecord(messageID, storyID, prompt string) model.QueueRecord {
	return model.QueueRecord{
		MessageID: messageID,
		Body:      `{"body":"{\"id\":\"` + storyID + `\",\"story_prompt\":\"` + prompt + `\"}"}`,
	}
}

func TestBatchRunner_FailedIDsPartitionTheBatch(t *testing.T) {
	f := newFixture(t)
	f.generator.On("Generate", mock.Anything, "a fox").Return(foxOutput, nil).Once()
	f.generator.On("Generate", mock.Anything, "an owl").Return("not json", nil).Once()
	f.expectNotify()

	video := storyRecord("m-video", "s3", "a cat")
	video.Attributes = map[string]model.MessageAttribute{model.AttributeTaskType: {StringValue: "VIDEO"}}

	records := []model.QueueRecord{
		{MessageID: "m-fox", Body: foxRecordBody},
		{MessageID: "m-garbage", Body: "not json"},
		storyRecord("m-owl", "s2", "an owl"),
		video,
		{MessageID: "m-fox-dup", Body: foxRecordBody},
	}

	runner := worker.NewBatchRunner(f.pipeline, time.Minute, zap.NewNop())
	failed := runner.ProcessBatch(context.Background(), records)

	assert.Equal(t, []string{"m-garbage", "m-owl", "m-video"}, failed)

	failedSet := make(map[string]bool)
	for _, id := range failed {
		assert.False(t, failedSet[id], "id reported twice: %s", id)
		failedSet[id] = true
	}
	var succeeded []string
	for _, r := range records {
		if !failedSet[r.MessageID] {
			succeeded = append(succeeded, r.MessageID)
		}
	}
	assert.Equal(t, []string{"m-fox", "m-fox-dup"}, succeeded)
	assert.Equal(t, len(records), len(failed)+len(succeeded))
}

func TestBatchRunner_AllSucceededReturnsEmpty(t *testing.T) {
	f := newFixture(t)
	f.generator.On("Generate", mock.Anything, "a fox").Return(foxOutput, nil).Once()
	f.expectNotify()

	runner := worker.NewBatchRunner(f.pipeline, 0, zap.NewNop())
	failed := runner.ProcessBatch(context.Background(), []model.QueueRecord{{MessageID: "m1", Body: foxRecordBody}})
	require.NotNil(t, failed)
	assert.Empty(t, failed)
}

func TestBatchRunner_MalformedBatchFailsEverything(t *testing.T) {
	f := newFixture(t)
	runner := worker.NewBatchRunner(f.pipeline, time.Minute, zap.NewNop())

	records := []model.QueueRecord{
		{MessageID: "m1", Body: foxRecordBody},
		{MessageID: "", Body: foxRecordBody},
	}
	failed := runner.ProcessBatch(context.Background(), records)
	assert.Equal(t, []string{"m1", ""}, failed)
	assert.Empty(t, f.generator.Calls, "nothing is processed")
}

func TestBatchRunner_PanicFailsOnlyThatItem(t *testing.T) {
	f := newFixture(t)
	f.generator.On("Generate", mock.Anything, "a fox").
		Run(func(mock.Arguments) { panic("generator exploded") }).
		Return("", nil).Once()
	f.generator.On("Generate", mock.Anything, "an owl").Return(foxOutput, nil).Once()
	f.expectNotify()

	runner := worker.NewBatchRunner(f.pipeline, time.Minute, zap.NewNop())
	records := []model.QueueRecord{
		{MessageID: "m-garbage", Body: "not json"},
		{MessageID: "m-fox", Body: foxRecordBody},
		storyRecord("m-owl", "s9", "an owl"),
	}

	failed := runner.ProcessBatch(context.Background(), records)
	assert.Equal(t, []string{"m-garbage", "m-fox"}, failed)

	meta, err := f.store.GetMetadata(context.Background(), "s9")
	require.NoError(t, err)
	assert.Equal(t, model.StoryStatusCompleted, meta.Status, "records after the panic are still processed")
}

func TestBatchRunner_ItemTimeout(t *testing.T) {
	f := newFixture(t)
	f.generator.On("Generate", mock.Anything, "a fox").
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return("", context.DeadlineExceeded).Once()

	runner := worker.NewBatchRunner(f.pipeline, 20*time.Millisecond, zap.NewNop())
	failed := runner.ProcessBatch(context.Background(), []model.QueueRecord{{MessageID: "m1", Body: foxRecordBody}})
	assert.Equal(t, []string{"m1"}, failed)

	// FAILED пишется и после истечения контекста записи
	meta, err := f.store.GetMetadata(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StoryStatusFailed, meta.Status)
}
