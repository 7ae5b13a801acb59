package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"story-text-worker/internal/model"
)

// maxEnvelopeDepth: сколько уровней уведомлений ({"Message": "..."}) мы разворачиваем.
const maxEnvelopeDepth = 2

// taskContent is the inner JSON of a story request.
type taskContent struct {
	ID          string  `json:"id"`
	StoryPrompt string  `json:"story_prompt"`
	Message     *string `json:"Message"`
}

// DecodeRecord extracts a TaskPayload from a raw queue record.
//
// The body must be JSON. A notification envelope ({"Message": "<json>"}) is unwrapped
// and its inner JSON is the task content. Otherwise the top-level "body" or "payload"
// string is the content, falling back to the raw body. Content that is a JSON object is
// read as {"id", "story_prompt"}; plain-text content is the prompt itself and the
// message id becomes the story id.
func DecodeRecord(record model.QueueRecord) (*model.TaskPayload, error) {
	raw := []byte(record.Body)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: message %s: body is not valid JSON", model.ErrDecode, record.MessageID)
	}

	var content taskContent
	var err error

	top := map[string]json.RawMessage{}
	if isJSONObject(raw) {
		if err := json.Unmarshal(raw, &top); err != nil {
			return nil, fmt.Errorf("%w: message %s: %v", model.ErrDecode, record.MessageID, err)
		}
	}

	switch {
	case top["Message"] != nil:
		var inner string
		if err := json.Unmarshal(top["Message"], &inner); err != nil {
			return nil, fmt.Errorf("%w: message %s: envelope Message is not a string", model.ErrDecode, record.MessageID)
		}
		content, err = unwrapEnvelope(inner, 1)
		if err != nil {
			return nil, fmt.Errorf("%w: message %s: %v", model.ErrDecode, record.MessageID, err)
		}
	default:
		text := stringField(top, "body")
		if text == "" {
			text = stringField(top, "payload")
		}
		if text == "" {
			text = record.Body
		}
		content, err = parseContent(text, record.MessageID)
		if err != nil {
			return nil, fmt.Errorf("%w: message %s: %v", model.ErrDecode, record.MessageID, err)
		}
	}

	if strings.TrimSpace(content.ID) == "" {
		return nil, fmt.Errorf("%w: message %s: story id is missing", model.ErrDecode, record.MessageID)
	}
	if err := checkStoryID(content.ID); err != nil {
		return nil, fmt.Errorf("%w: message %s: %v", model.ErrDecode, record.MessageID, err)
	}
	if strings.TrimSpace(content.StoryPrompt) == "" {
		return nil, fmt.Errorf("%w: message %s: story prompt is missing", model.ErrDecode, record.MessageID)
	}

	return &model.TaskPayload{
		StoryID:     content.ID,
		StoryPrompt: content.StoryPrompt,
		Attributes:  record.Attributes,
	}, nil
}

// checkStoryID rejects ids that cannot be used as a single object key segment.
func checkStoryID(id string) error {
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("story id %q contains a path separator or '..'", id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("story id %q contains a control character", id)
		}
	}
	return nil
}

// unwrapEnvelope parses the JSON carried by a notification envelope. A second
// envelope level is unwrapped as well.
func unwrapEnvelope(inner string, depth int) (taskContent, error) {
	var content taskContent
	if err := json.Unmarshal([]byte(inner), &content); err != nil {
		return taskContent{}, fmt.Errorf("envelope level %d is not a JSON object: %v", depth, err)
	}
	if content.Message != nil && content.ID == "" {
		if depth >= maxEnvelopeDepth {
			return taskContent{}, fmt.Errorf("more than %d envelope levels", maxEnvelopeDepth)
		}
		return unwrapEnvelope(*content.Message, depth+1)
	}
	return content, nil
}

// parseContent reads body/payload content: a JSON task object or a plain-text prompt.
func parseContent(text, messageID string) (taskContent, error) {
	trimmed := []byte(strings.TrimSpace(text))
	if isJSONObject(trimmed) {
		var content taskContent
		if err := json.Unmarshal(trimmed, &content); err != nil {
			return taskContent{}, fmt.Errorf("task content is malformed: %v", err)
		}
		if content.Message != nil && content.ID == "" {
			return unwrapEnvelope(*content.Message, 1)
		}
		return content, nil
	}
	if json.Valid(trimmed) {
		// JSON-строка в качестве payload: используем ее значение как промпт
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return taskContent{ID: messageID, StoryPrompt: s}, nil
		}
	}
	return taskContent{ID: messageID, StoryPrompt: string(trimmed)}, nil
}

func stringField(fields map[string]json.RawMessage, name string) string {
	value, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return ""
	}
	return s
}

func isJSONObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
