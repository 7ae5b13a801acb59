package model

import (
	"errors"
	"fmt"
)

// Pipeline-wide errors. Callers match them with errors.Is; concrete failures wrap
// them with fmt.Errorf("...: %w", ...).
var (
	// Inbound message errors
	ErrDecode          = errors.New("malformed queue message")
	ErrInvalidTaskType = errors.New("invalid task type")

	// Generation & validation
	ErrGeneration = errors.New("text generation failed")
	ErrValidation = errors.New("generated content is invalid")

	// Persistence
	ErrStoreWrite        = errors.New("store write failed")
	ErrStoreRead         = errors.New("store read failed")
	ErrBlobWrite         = errors.New("blob write failed")
	ErrBlobRead          = errors.New("blob read failed")
	ErrNotFound          = errors.New("record not found")
	ErrTaskAlreadyExists = errors.New("text task already exists for story")

	// Coordination
	ErrStoryLocked        = errors.New("story is being processed by another worker")
	ErrNothingToReconcile = errors.New("story has no text task to reconcile")
	ErrStoryInProgress    = errors.New("story is still being processed")

	ErrConfiguration = errors.New("invalid configuration")
)

// ValidationError describes why generator output could not be turned into segments.
// Index is the offending array element, or -1 when the document as a whole is wrong.
type ValidationError struct {
	Index  int
	Reason string
	Raw    string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("generated content is invalid: %s", e.Reason)
	}
	return fmt.Sprintf("generated content is invalid: segment %d: %s", e.Index, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }
