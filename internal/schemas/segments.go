package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"story-text-worker/internal/model"
)

// ParseSegments parses generator output into story segments, preserving order.
// The output must be a JSON array whose elements are objects with string "text"
// and "imagePrompt" fields. Failures are returned as *model.ValidationError with
// the raw output attached.
func ParseSegments(raw string) ([]model.StorySegment, error) {
	data := []byte(stripCodeFence(raw))

	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		reason := fmt.Sprintf("output is not a JSON array: %v", err)
		if json.Valid(data) {
			reason = "output is JSON but not an array"
		}
		return nil, &model.ValidationError{Index: -1, Reason: reason, Raw: raw}
	}
	if elements == nil {
		// "null" unmarshals into a nil slice without error
		return nil, &model.ValidationError{Index: -1, Reason: "output is JSON but not an array", Raw: raw}
	}

	segments := make([]model.StorySegment, 0, len(elements))
	for i, element := range elements {
		segment, reason := parseSegment(element)
		if reason != "" {
			return nil, &model.ValidationError{Index: i, Reason: reason, Raw: raw}
		}
		segments = append(segments, segment)
	}
	return segments, nil
}

func parseSegment(element json.RawMessage) (model.StorySegment, string) {
	trimmed := bytes.TrimSpace(element)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return model.StorySegment{}, "segment is not an object"
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return model.StorySegment{}, fmt.Sprintf("segment is not an object: %v", err)
	}

	text, reason := stringField(fields, "text")
	if reason != "" {
		return model.StorySegment{}, reason
	}
	imagePrompt, reason := stringField(fields, "imagePrompt")
	if reason != "" {
		return model.StorySegment{}, reason
	}
	return model.StorySegment{Text: text, ImagePrompt: imagePrompt}, ""
}

func stringField(fields map[string]json.RawMessage, name string) (string, string) {
	value, ok := fields[name]
	if !ok {
		return "", fmt.Sprintf("missing %q field", name)
	}
	value = bytes.TrimSpace(value)
	var s string
	if len(value) == 0 || value[0] != '"' {
		return "", fmt.Sprintf("%q field is not a string", name)
	}
	if err := json.Unmarshal(value, &s); err != nil {
		return "", fmt.Sprintf("%q field is not a string", name)
	}
	return s, ""
}

// stripCodeFence убирает markdown-обертку ```json ... ```, которую модели часто добавляют.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return raw
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
