package messaging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-text-worker/internal/messaging"
	"story-text-worker/internal/model"
)

func TestDecodeRecord(t *testing.T) {
	attrs := map[string]model.MessageAttribute{
		model.AttributeTaskType: {StringValue: "TEXT", DataType: "String"},
	}

	tests := []struct {
		name       string
		body       string
		wantStory  string
		wantPrompt string
	}{
		{
			name:       "body field with task object",
			body:       `{"body":"{\"id\":\"s1\",\"story_prompt\":\"a fox\"}"}`,
			wantStory:  "s1",
			wantPrompt: "a fox",
		},
		{
			name:       "payload field with task object",
			body:       `{"payload":"{\"id\":\"s2\",\"story_prompt\":\"a river\"}"}`,
			wantStory:  "s2",
			wantPrompt: "a river",
		},
		{
			name:       "notification envelope",
			body:       `{"Type":"Notification","Message":"{\"id\":\"s3\",\"story_prompt\":\"an owl\"}"}`,
			wantStory:  "s3",
			wantPrompt: "an owl",
		},
		{
			name:       "nested notification envelope",
			body:       `{"Message":"{\"Message\":\"{\\\"id\\\":\\\"s4\\\",\\\"story_prompt\\\":\\\"a bear\\\"}\"}"}`,
			wantStory:  "s4",
			wantPrompt: "a bear",
		},
		{
			name:       "raw body is the task object",
			body:       `{"id":"s5","story_prompt":"a wolf"}`,
			wantStory:  "s5",
			wantPrompt: "a wolf",
		},
		{
			name:       "plain text payload uses message id",
			body:       `{"payload":"a story about a lonely lighthouse"}`,
			wantStory:  "msg-1",
			wantPrompt: "a story about a lonely lighthouse",
		},
		{
			name:       "json string body uses message id",
			body:       `"a cat on a roof"`,
			wantStory:  "msg-1",
			wantPrompt: "a cat on a roof",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := messaging.DecodeRecord(model.QueueRecord{MessageID: "msg-1", Body: tt.body, Attributes: attrs})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStory, payload.StoryID)
			assert.Equal(t, tt.wantPrompt, payload.StoryPrompt)
			assert.Equal(t, attrs, payload.Attributes)
		})
	}
}

func TestDecodeRecord_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "body is not json", body: "not json"},
		{name: "empty body", body: ""},
		{name: "envelope message is not json", body: `{"Message":"hello there"}`},
		{name: "envelope message is not a string", body: `{"Message":{"id":"s1"}}`},
		{name: "missing story prompt", body: `{"body":"{\"id\":\"s1\"}"}`},
		{name: "empty story prompt", body: `{"body":"{\"id\":\"s1\",\"story_prompt\":\"  \"}"}`},
		{name: "missing story id", body: `{"Message":"{\"story_prompt\":\"a fox\"}"}`},
		{name: "object without task fields", body: `{"foo":"bar"}`},
		{name: "story id with parent segment", body: `{"body":"{\"id\":\"../escaped\",\"story_prompt\":\"x\"}"}`},
		{name: "story id with slash", body: `{"Message":"{\"id\":\"a/b\",\"story_prompt\":\"x\"}"}`},
		{name: "story id with backslash", body: `{"body":"{\"id\":\"a\\\\b\",\"story_prompt\":\"x\"}"}`},
		{name: "story id with control character", body: `{"body":"{\"id\":\"s1\\n\",\"story_prompt\":\"x\"}"}`},
		{name: "malformed task object", body: `{"body":"{\"id\": 12, \"story_prompt\":\"x\"}"}`},
		{
			name: "three envelope levels",
			body: `{"Message":"{\"Message\":\"{\\\"Message\\\":\\\"{}\\\"}\"}"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := messaging.DecodeRecord(model.QueueRecord{MessageID: "msg-2", Body: tt.body})
			require.Error(t, err)
			assert.Nil(t, payload)
			assert.ErrorIs(t, err, model.ErrDecode)
			assert.Contains(t, err.Error(), "msg-2")
		})
	}
}
