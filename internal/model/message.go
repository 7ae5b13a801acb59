package model

// AttributeTaskType is the message attribute carrying the task type tag.
const AttributeTaskType = "task_type"

// MessageAttribute mirrors a typed queue message attribute.
type MessageAttribute struct {
	StringValue string `json:"stringValue"`
	DataType    string `json:"dataType,omitempty"`
}

// QueueRecord is one raw inbound item of a batch.
type QueueRecord struct {
	MessageID  string                      `json:"messageId"`
	Body       string                      `json:"body"`
	Attributes map[string]MessageAttribute `json:"messageAttributes,omitempty"`
}

// TaskPayload is the normalized content extracted from a QueueRecord.
type TaskPayload struct {
	StoryID     string
	StoryPrompt string
	Attributes  map[string]MessageAttribute
}

// TasksCreatedEvent is published once a story's fan-out is complete.
type TasksCreatedEvent struct {
	StoryID       string        `json:"storyId"`
	TaskIDsByType TaskIDsByType `json:"taskIdsByType"`
	TextLocator   string        `json:"textLocator"`
}
