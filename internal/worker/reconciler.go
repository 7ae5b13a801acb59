package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"story-text-worker/internal/model"
	"story-text-worker/internal/schemas"
)

// ReconcileAction что сделал Reconcile с историей.
type ReconcileAction string

const (
	ReconcileNoop        ReconcileAction = "noop"
	ReconcileRegenerated ReconcileAction = "regenerated"
	ReconcileResumed     ReconcileAction = "resumed"
)

// ReconcileResult итог восстановления истории.
type ReconcileResult struct {
	StoryID       string              `json:"storyId"`
	TextTaskID    string              `json:"textTaskId"`
	Action        ReconcileAction     `json:"action"`
	CreatedTasks  int                 `json:"createdTasks"`
	TaskIDsByType model.TaskIDsByType `json:"taskIdsByType,omitempty"`
}

// Reconciler доводит до конца истории, застрявшие между созданием TEXT-задачи и завершением.
type Reconciler struct {
	pipeline   *Pipeline
	staleAfter time.Duration
	logger     *zap.Logger
}

// NewReconciler creates a reconciler. A story that has not failed is only touched once its
// TEXT task has not been updated for staleAfter; a zero staleAfter limits it to failed stories.
func NewReconciler(pipeline *Pipeline, staleAfter time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{pipeline: pipeline, staleAfter: staleAfter, logger: logger.Named("Reconciler")}
}

// Reconcile resumes a story from its first missing stage. Without fan-out tasks the text is
// regenerated from the TEXT task's prompt; otherwise the published text is fetched and only
// the missing TTS/IMAGE tasks are created.
func (r *Reconciler) Reconcile(ctx context.Context, storyID string) (*ReconcileResult, error) {
	p := r.pipeline
	log := r.logger.With(zap.String("story_id", storyID))

	release, err := p.locker.Acquire(ctx, storyID)
	if err != nil {
		return nil, err
	}
	defer p.release(ctx, release, log)

	textTask, err := p.store.FindTextTask(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if textTask == nil {
		reconciliations.WithLabelValues(reasonNothingToFix).Inc()
		return nil, fmt.Errorf("%w: %s", model.ErrNothingToReconcile, storyID)
	}
	log = log.With(zap.String("task_id", textTask.TaskID))
	result := &ReconcileResult{StoryID: storyID, TextTaskID: textTask.TaskID}

	meta, err := p.store.GetMetadata(ctx, storyID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	if textTask.Status == model.TaskStatusCompleted && meta != nil && meta.Status == model.StoryStatusCompleted {
		result.Action = ReconcileNoop
		result.TaskIDsByType = meta.TaskIDsByType
		reconciliations.WithLabelValues(string(ReconcileNoop)).Inc()
		log.Info("Story already completed, nothing to do")
		return result, nil
	}

	if !r.stuck(textTask, meta) {
		reconciliations.WithLabelValues("in_progress").Inc()
		log.Info("Story is still being processed, not reconciling",
			zap.String("status", string(textTask.Status)),
			zap.Time("date_updated", textTask.DateUpdated),
		)
		return nil, fmt.Errorf("%w: %s", model.ErrStoryInProgress, storyID)
	}

	tasks, err := p.store.ListTasks(ctx, storyID)
	if err != nil {
		return nil, err
	}
	var existing []*model.VideoTask
	for _, t := range tasks {
		if (t.Type == model.TaskTypeTTS || t.Type == model.TaskTypeImage) && t.SegmentIndex != nil {
			existing = append(existing, t)
		}
	}

	if len(existing) == 0 && textTask.Status != model.TaskStatusCompleted {
		result.Action = ReconcileRegenerated
		result.TaskIDsByType, result.CreatedTasks, err = r.regenerate(ctx, textTask, log)
	} else {
		result.Action = ReconcileResumed
		result.TaskIDsByType, result.CreatedTasks, err = r.resume(ctx, textTask, existing, log)
	}
	if err != nil {
		p.markFailed(ctx, textTask, log)
		reconciliations.WithLabelValues("failed").Inc()
		return nil, err
	}

	reconciliations.WithLabelValues(string(result.Action)).Inc()
	log.Info("Story reconciled",
		zap.String("action", string(result.Action)),
		zap.Int("tasks_created", result.CreatedTasks),
	)
	return result, nil
}

// stuck reports whether no worker can still be finishing the story.
func (r *Reconciler) stuck(textTask *model.VideoTask, meta *model.StoryMetadata) bool {
	if textTask.Status == model.TaskStatusFailed {
		return true
	}
	if meta != nil && meta.Status == model.StoryStatusFailed {
		return true
	}
	if r.staleAfter <= 0 {
		return false
	}
	return r.pipeline.now().Sub(textTask.DateUpdated) >= r.staleAfter
}

func (r *Reconciler) regenerate(ctx context.Context, textTask *model.VideoTask, log *zap.Logger) (model.TaskIDsByType, int, error) {
	segments, raw, err := r.pipeline.generate(ctx, textTask.SourcePrompt, log)
	if err != nil {
		return nil, 0, err
	}
	return r.pipeline.publishAndFanOut(ctx, textTask, segments, raw, nil, log)
}

func (r *Reconciler) resume(ctx context.Context, textTask *model.VideoTask, existing []*model.VideoTask, log *zap.Logger) (model.TaskIDsByType, int, error) {
	p := r.pipeline

	locator := p.blobs.Locate(textTask.ID, textTask.TaskID, model.TaskTypeText)
	if textTask.MediaURL != nil && *textTask.MediaURL != "" {
		locator = *textTask.MediaURL
	}

	body, err := p.blobs.Fetch(ctx, locator)
	if err != nil {
		return nil, 0, err
	}
	segments, err := schemas.ParseSegments(string(body))
	if err != nil {
		return nil, 0, fmt.Errorf("published text %s: %w", locator, err)
	}
	log.Debug("Published text reloaded",
		zap.String("locator", locator),
		zap.Int("segments", len(segments)),
		zap.Int("existing_tasks", len(existing)),
	)
	return p.fanOutAndComplete(ctx, textTask, locator, segments, existing, log)
}
