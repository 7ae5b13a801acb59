package messaging

import (
	"fmt"

	"story-text-worker/internal/model"
)

// CheckTaskType rejects records whose task_type attribute is present and not TEXT.
// A missing or empty attribute is treated as TEXT.
func CheckTaskType(attributes map[string]model.MessageAttribute) error {
	attr, ok := attributes[model.AttributeTaskType]
	if !ok || attr.StringValue == "" {
		return nil
	}
	if model.TaskType(attr.StringValue) != model.TaskTypeText {
		return fmt.Errorf("%w: %s", model.ErrInvalidTaskType, attr.StringValue)
	}
	return nil
}
