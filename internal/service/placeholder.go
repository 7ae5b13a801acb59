package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"story-text-worker/internal/model"
)

type placeholderGenerator struct{}

// NewPlaceholderGenerator returns a deterministic generator that makes no external call.
// The prompt is upper-cased and wrapped as a single segment so the output validates.
func NewPlaceholderGenerator() TextGenerator {
	return placeholderGenerator{}
}

func (placeholderGenerator) Generate(_ context.Context, prompt string) (string, error) {
	segments := []model.StorySegment{{
		Text:        strings.ToUpper(prompt),
		ImagePrompt: prompt,
	}}
	out, err := json.Marshal(segments)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrGeneration, err)
	}
	return string(out), nil
}
