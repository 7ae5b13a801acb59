package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"story-text-worker/internal/model"
)

var errMalformedBatch = errors.New("malformed batch")

// BatchRunner последовательно прогоняет записи пачки через Pipeline и собирает неудачные.
type BatchRunner struct {
	pipeline    *Pipeline
	itemTimeout time.Duration
	logger      *zap.Logger
}

// NewBatchRunner creates a runner. A zero itemTimeout leaves items bounded only by ctx.
func NewBatchRunner(pipeline *Pipeline, itemTimeout time.Duration, logger *zap.Logger) *BatchRunner {
	return &BatchRunner{
		pipeline:    pipeline,
		itemTimeout: itemTimeout,
		logger:      logger.Named("BatchRunner"),
	}
}

// ProcessBatch processes records in order and returns the message ids that failed. Every
// record is either in the result or succeeded. A failure outside the per-item loop reports
// the whole batch as failed; a panic inside one item fails only that item.
func (r *BatchRunner) ProcessBatch(ctx context.Context, records []model.QueueRecord) (failed []string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic while processing batch, failing all records",
				zap.Any("panic", rec),
				zap.Int("size", len(records)),
			)
			tasksFailed.WithLabelValues(reasonBatch).Add(float64(len(records)))
			failed = allMessageIDs(records)
		}
	}()

	if err := checkBatch(records); err != nil {
		r.logger.Error("Rejecting batch", zap.Error(err), zap.Int("size", len(records)))
		tasksFailed.WithLabelValues(reasonBatch).Add(float64(len(records)))
		return allMessageIDs(records)
	}

	failed = []string{}
	for _, record := range records {
		if !r.processItem(ctx, record) {
			failed = append(failed, record.MessageID)
		}
	}

	r.logger.Info("Batch processed", zap.Int("size", len(records)), zap.Int("failed", len(failed)))
	return failed
}

// processItem reports whether the record succeeded. A panic fails only this record; the
// story stays IN_PROGRESS until the reconciler treats it as stale.
func (r *BatchRunner) processItem(ctx context.Context, record model.QueueRecord) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			tasksFailed.WithLabelValues(reasonPanic).Inc()
			r.logger.Error("Panic while processing record",
				zap.String("message_id", record.MessageID),
				zap.Any("panic", rec),
			)
			ok = false
		}
	}()

	itemCtx := ctx
	if r.itemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, r.itemTimeout)
		defer cancel()
	}

	tasksReceived.Inc()
	start := time.Now()
	outcome, err := r.pipeline.Process(itemCtx, record)
	observeStage("item", start)

	if err != nil {
		reason := failureReason(err)
		tasksFailed.WithLabelValues(reason).Inc()
		r.logger.Error("Failed to process record",
			zap.String("message_id", record.MessageID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return false
	}

	if outcome == OutcomeSkipped {
		tasksSkipped.Inc()
	} else {
		tasksSucceeded.Inc()
	}
	return true
}

// checkBatch отклоняет записи без идентификатора: их нельзя адресно вернуть в очередь.
func checkBatch(records []model.QueueRecord) error {
	for i, rec := range records {
		if rec.MessageID == "" {
			return fmt.Errorf("%w: record %d has no message id", errMalformedBatch, i)
		}
	}
	return nil
}

func allMessageIDs(records []model.QueueRecord) []string {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.MessageID)
	}
	return ids
}
