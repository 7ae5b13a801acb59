package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"story-text-worker/internal/messaging"
	"story-text-worker/internal/model"
	"story-text-worker/internal/repository"
	"story-text-worker/internal/schemas"
	"story-text-worker/internal/service"
	"story-text-worker/internal/storage"
)

// Время на best-effort запись FAILED после истечения контекста записи.
const failureWriteTimeout = 10 * time.Second

// Outcome итог обработки записи, завершившейся без ошибки.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
)

// Pipeline превращает запрос истории в TEXT-задачу, блоб с сегментами и TTS/IMAGE задачи.
type Pipeline struct {
	store     repository.TaskRecordStore
	generator service.TextGenerator
	blobs     storage.BlobPublisher
	notifier  messaging.TaskNotifier
	locker    repository.StoryLocker
	logger    *zap.Logger
	now       func() time.Time
}

// NewPipeline собирает пайплайн. notifier может быть nil, тогда события не публикуются.
func NewPipeline(
	store repository.TaskRecordStore,
	generator service.TextGenerator,
	blobs storage.BlobPublisher,
	notifier messaging.TaskNotifier,
	locker repository.StoryLocker,
	logger *zap.Logger,
) *Pipeline {
	if locker == nil {
		locker = repository.NoopStoryLocker{}
	}
	return &Pipeline{
		store:     store,
		generator: generator,
		blobs:     blobs,
		notifier:  notifier,
		locker:    locker,
		logger:    logger.Named("Pipeline"),
		now:       time.Now,
	}
}

// Process runs one record through the pipeline. A story that already has a TEXT task is
// skipped without any store mutation. Any failure after the metadata moved to IN_PROGRESS
// marks the metadata and the TEXT task FAILED before the error is returned.
func (p *Pipeline) Process(ctx context.Context, record model.QueueRecord) (Outcome, error) {
	payload, err := messaging.DecodeRecord(record)
	if err != nil {
		return "", err
	}
	if err := messaging.CheckTaskType(payload.Attributes); err != nil {
		return "", err
	}

	storyID := payload.StoryID
	log := p.logger.With(zap.String("message_id", record.MessageID), zap.String("story_id", storyID))

	release, err := p.locker.Acquire(ctx, storyID)
	if err != nil {
		return "", err
	}
	defer p.release(ctx, release, log)

	existing, err := p.store.FindTextTask(ctx, storyID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		log.Info("TEXT task already exists, skipping",
			zap.String("task_id", existing.TaskID),
			zap.String("status", string(existing.Status)),
		)
		return OutcomeSkipped, nil
	}

	textTask := model.NewVideoTask(storyID, model.TaskTypeText, model.TaskStatusInProgress, payload.StoryPrompt, p.now())
	if err := p.store.CreateTask(ctx, textTask); err != nil {
		if errors.Is(err, model.ErrTaskAlreadyExists) {
			log.Info("TEXT task created concurrently, skipping")
			return OutcomeSkipped, nil
		}
		return "", err
	}
	log = log.With(zap.String("task_id", textTask.TaskID))
	log.Debug("TEXT task created")

	if err := p.store.UpdateMetadataStatus(ctx, storyID, model.StoryStatusInProgress); err != nil {
		// Метаданные не тронуты, помечаем только задачу
		p.markTextFailed(ctx, textTask, log)
		return "", err
	}

	segments, raw, err := p.generate(ctx, textTask.SourcePrompt, log)
	if err == nil {
		_, _, err = p.publishAndFanOut(ctx, textTask, segments, raw, nil, log)
	}
	if err != nil {
		p.markFailed(ctx, textTask, log)
		return "", err
	}
	return OutcomeCompleted, nil
}

// generate calls the generator and validates its output.
func (p *Pipeline) generate(ctx context.Context, prompt string, log *zap.Logger) ([]model.StorySegment, string, error) {
	start := time.Now()
	raw, err := p.generator.Generate(ctx, prompt)
	observeStage("generate", start)
	if err != nil {
		return nil, "", err
	}

	segments, err := schemas.ParseSegments(raw)
	if err != nil {
		var vErr *model.ValidationError
		if errors.As(err, &vErr) {
			log.Warn("Generated content failed validation",
				zap.Int("index", vErr.Index),
				zap.String("reason", vErr.Reason),
				zap.String("raw", vErr.Raw),
			)
		}
		return nil, raw, err
	}
	log.Debug("Generated content validated", zap.Int("segments", len(segments)))
	return segments, raw, nil
}

// publishAndFanOut uploads the raw generator response as received and finishes the story.
func (p *Pipeline) publishAndFanOut(
	ctx context.Context,
	textTask *model.VideoTask,
	segments []model.StorySegment,
	raw string,
	existing []*model.VideoTask,
	log *zap.Logger,
) (model.TaskIDsByType, int, error) {
	start := time.Now()
	locator, err := p.blobs.Publish(ctx, textTask.ID, textTask.TaskID, model.TaskTypeText, []byte(raw))
	observeStage("publish", start)
	if err != nil {
		return nil, 0, err
	}
	log.Debug("Story text published", zap.String("locator", locator), zap.Int("raw_length", len(raw)))

	return p.fanOutAndComplete(ctx, textTask, locator, segments, existing, log)
}

// fanOutAndComplete creates the TTS/IMAGE tasks missing from existing, completes the TEXT
// task and the metadata, then publishes the tasks-created event. It returns the completion
// summary and the number of tasks it created.
func (p *Pipeline) fanOutAndComplete(
	ctx context.Context,
	textTask *model.VideoTask,
	locator string,
	segments []model.StorySegment,
	existing []*model.VideoTask,
	log *zap.Logger,
) (model.TaskIDsByType, int, error) {
	all, missing := p.buildFanOut(textTask.ID, segments, existing)

	start := time.Now()
	if err := p.store.BulkCreateTasks(ctx, missing); err != nil {
		return nil, 0, err
	}
	observeStage("fan_out", start)
	fanOutSize.Observe(float64(len(missing)))

	if err := p.store.UpdateTaskStatus(ctx, textTask.ID, textTask.TaskID, model.TaskStatusCompleted, &locator); err != nil {
		return nil, len(missing), err
	}
	textTask.Status = model.TaskStatusCompleted

	summary := model.GroupTaskIDs(append([]*model.VideoTask{textTask}, all...))
	if err := p.store.CompleteMetadata(ctx, textTask.ID, summary); err != nil {
		return nil, len(missing), err
	}
	log.Info("Story text processed",
		zap.Int("segments", len(segments)),
		zap.Int("tasks_created", len(missing)),
	)

	p.notify(ctx, model.TasksCreatedEvent{StoryID: textTask.ID, TaskIDsByType: summary, TextLocator: locator}, log)
	return summary, len(missing), nil
}

type segmentKey struct {
	taskType model.TaskType
	index    int
}

// buildFanOut returns the full ordered TTS_i, IMAGE_i sequence and the subset that still has
// to be created. Tasks in existing are matched by type and segment index.
func (p *Pipeline) buildFanOut(storyID string, segments []model.StorySegment, existing []*model.VideoTask) (all, missing []*model.VideoTask) {
	have := make(map[segmentKey]*model.VideoTask, len(existing))
	for _, t := range existing {
		if t.SegmentIndex != nil {
			have[segmentKey{t.Type, *t.SegmentIndex}] = t
		}
	}

	now := p.now()
	all = make([]*model.VideoTask, 0, 2*len(segments))
	for i, seg := range segments {
		for _, kind := range []struct {
			taskType model.TaskType
			prompt   string
		}{
			{model.TaskTypeTTS, seg.Text},
			{model.TaskTypeImage, seg.ImagePrompt},
		} {
			if t, ok := have[segmentKey{kind.taskType, i}]; ok {
				all = append(all, t)
				continue
			}
			t := model.NewVideoTask(storyID, kind.taskType, model.TaskStatusPending, kind.prompt, now)
			idx := i
			t.SegmentIndex = &idx
			all = append(all, t)
			missing = append(missing, t)
		}
	}
	return all, missing
}

func (p *Pipeline) notify(ctx context.Context, event model.TasksCreatedEvent, log *zap.Logger) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.NotifyTasksCreated(ctx, event); err != nil {
		// Записи уже закоммичены, запись очереди не проваливаем
		notifyErrors.Inc()
		log.Warn("Failed to publish tasks created event", zap.Error(err))
	}
}

// markFailed переводит метаданные и TEXT-задачу в FAILED. Ошибки только логируются.
// Уже завершенная TEXT-задача не откатывается.
func (p *Pipeline) markFailed(ctx context.Context, textTask *model.VideoTask, log *zap.Logger) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if err := p.store.UpdateMetadataStatus(writeCtx, textTask.ID, model.StoryStatusFailed); err != nil {
		log.Error("Failed to mark story metadata FAILED", zap.Error(err))
	}
	if textTask.Status != model.TaskStatusCompleted {
		p.markTextFailed(writeCtx, textTask, log)
	}
}

func (p *Pipeline) markTextFailed(ctx context.Context, textTask *model.VideoTask, log *zap.Logger) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if err := p.store.UpdateTaskStatus(writeCtx, textTask.ID, textTask.TaskID, model.TaskStatusFailed, nil); err != nil {
		log.Error("Failed to mark TEXT task FAILED", zap.Error(err))
	}
}

func (p *Pipeline) release(ctx context.Context, release repository.ReleaseFunc, log *zap.Logger) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		log.Warn("Failed to release story lock", zap.Error(err))
	}
}
