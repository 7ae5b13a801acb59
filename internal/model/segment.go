package model

// StorySegment is one narrative beat with its illustration prompt.
type StorySegment struct {
	Text        string `json:"text"`
	ImagePrompt string `json:"imagePrompt"`
}
