package messaging

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"story-text-worker/internal/config"
	"story-text-worker/internal/model"
)

const (
	dlqRoutingKey   = "dlq"
	stopWaitTimeout = 30 * time.Second
)

// BatchHandler обрабатывает пачку записей и возвращает id неуспешных.
type BatchHandler interface {
	ProcessBatch(ctx context.Context, records []model.QueueRecord) []string
}

// BatchConsumer собирает доставки RabbitMQ в пачки и передает их BatchHandler.
type BatchConsumer struct {
	conn    *amqp.Connection
	cfg     config.RabbitMQConfig
	handler BatchHandler
	logger  *zap.Logger
	done    chan struct{}
	channel *amqp.Channel
}

// NewBatchConsumer creates a consumer for the task queue.
func NewBatchConsumer(conn *amqp.Connection, cfg config.RabbitMQConfig, handler BatchHandler, logger *zap.Logger) *BatchConsumer {
	return &BatchConsumer{
		conn:    conn,
		cfg:     cfg,
		handler: handler,
		logger:  logger.Named("BatchConsumer"),
		done:    make(chan struct{}),
	}
}

// Start declares the queue topology and begins consuming in a background goroutine.
func (c *BatchConsumer) Start(ctx context.Context) error {
	var err error
	c.channel, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareTaskTopology(c.channel, c.cfg, c.logger); err != nil {
		_ = c.channel.Close()
		return err
	}

	// Prefetch равен размеру пачки, иначе пачка никогда не наберется
	if err := c.channel.Qos(c.cfg.BatchSize, 0, false); err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(c.cfg.TaskQueue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started, waiting for messages...",
		zap.String("queue", c.cfg.TaskQueue),
		zap.Int("batch_size", c.cfg.BatchSize),
		zap.Duration("flush_interval", c.cfg.FlushInterval),
	)

	go func() {
		defer close(c.done)
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Panic recovered in consumer goroutine", zap.Any("panic", r))
			}
		}()
		c.run(ctx, msgs)
		c.logger.Info("Consumer goroutine stopping...")
	}()
	return nil
}

func (c *BatchConsumer) run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		batch, more := collectBatch(ctx, msgs, c.cfg.BatchSize, c.cfg.FlushInterval)
		if len(batch) > 0 {
			// Начатую пачку доводим до конца даже при остановке
			processBatch(context.WithoutCancel(ctx), batch, c.handler, c.logger)
		}
		if !more {
			return
		}
	}
}

// Stop cancels the subscription and waits for the in-flight batch to be settled.
func (c *BatchConsumer) Stop() error {
	c.logger.Info("Stopping consumer...")
	if c.channel == nil {
		return nil
	}
	if err := c.channel.Cancel(c.cfg.ConsumerTag, false); err != nil {
		c.logger.Error("Error cancelling consumer", zap.Error(err))
	}

	select {
	case <-c.done:
		c.logger.Info("Consumer goroutine finished.")
	case <-time.After(stopWaitTimeout):
		c.logger.Warn("Timeout waiting for consumer goroutine to stop.")
	}

	if err := c.channel.Close(); err != nil {
		c.logger.Warn("Error closing consumer channel", zap.Error(err))
	}
	return nil
}

// TopologyChannel: подмножество *amqp.Channel для объявления очередей.
type TopologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTaskTopology declares the dead letter exchange, the dead letter queue and the
// task queue routed to them.
func DeclareTaskTopology(ch TopologyChannel, cfg config.RabbitMQConfig, logger *zap.Logger) error {
	if err := ch.ExchangeDeclare(cfg.DeadLetterX, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("не удалось объявить DLX '%s': %w", cfg.DeadLetterX, err)
	}
	if _, err := ch.QueueDeclare(cfg.DeadLetterQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("не удалось объявить DLQ '%s': %w", cfg.DeadLetterQ, err)
	}
	if err := ch.QueueBind(cfg.DeadLetterQ, dlqRoutingKey, cfg.DeadLetterX, false, nil); err != nil {
		return fmt.Errorf("не удалось связать DLQ '%s' с DLX '%s': %w", cfg.DeadLetterQ, cfg.DeadLetterX, err)
	}

	args := amqp.Table{
		"x-queue-mode":              "lazy",
		"x-dead-letter-exchange":    cfg.DeadLetterX,
		"x-dead-letter-routing-key": dlqRoutingKey,
	}
	if _, err := ch.QueueDeclare(cfg.TaskQueue, true, false, false, false, args); err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", cfg.TaskQueue, err)
	}

	logger.Info("Queue topology declared",
		zap.String("queue", cfg.TaskQueue),
		zap.String("dlx", cfg.DeadLetterX),
		zap.String("dlq", cfg.DeadLetterQ),
	)
	return nil
}

// collectBatch blocks for the first delivery, then gathers more until the batch is full
// or flush elapses. more is false once ctx is done or the delivery channel is closed.
func collectBatch(ctx context.Context, msgs <-chan amqp.Delivery, size int, flush time.Duration) (batch []amqp.Delivery, more bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case d, ok := <-msgs:
		if !ok {
			return nil, false
		}
		batch = append(batch, d)
	}

	timer := time.NewTimer(flush)
	defer timer.Stop()

	for len(batch) < size {
		select {
		case <-ctx.Done():
			return batch, false
		case <-timer.C:
			return batch, true
		case d, ok := <-msgs:
			if !ok {
				return batch, false
			}
			batch = append(batch, d)
		}
	}
	return batch, true
}

// processBatch runs the handler and settles every delivery: successes are acked, failures
// are requeued on first delivery and dead-lettered once redelivered. The handler reports
// failures by message id, so deliveries sharing an id go to the handler in separate runs.
func processBatch(ctx context.Context, batch []amqp.Delivery, handler BatchHandler, logger *zap.Logger) {
	var acked, requeued, deadLettered int
	for _, run := range splitByMessageID(batch) {
		a, r, d := processRun(ctx, run, handler, logger)
		acked += a
		requeued += r
		deadLettered += d
	}

	logger.Info("Batch settled",
		zap.Int("size", len(batch)),
		zap.Int("acked", acked),
		zap.Int("requeued", requeued),
		zap.Int("dead_lettered", deadLettered),
	)
}

// splitByMessageID cuts batch into consecutive runs with unique message ids, keeping
// delivery order.
func splitByMessageID(batch []amqp.Delivery) [][]amqp.Delivery {
	var runs [][]amqp.Delivery
	var current []amqp.Delivery
	seen := make(map[string]struct{})
	for _, d := range batch {
		id := messageID(d)
		if _, dup := seen[id]; dup {
			runs = append(runs, current)
			current = nil
			seen = make(map[string]struct{})
		}
		seen[id] = struct{}{}
		current = append(current, d)
	}
	if len(current) > 0 {
		runs = append(runs, current)
	}
	return runs
}

func processRun(ctx context.Context, run []amqp.Delivery, handler BatchHandler, logger *zap.Logger) (acked, requeued, deadLettered int) {
	records := make([]model.QueueRecord, len(run))
	for i, d := range run {
		records[i] = DeliveryToRecord(d)
	}

	failed := make(map[string]struct{})
	for _, id := range handler.ProcessBatch(ctx, records) {
		failed[id] = struct{}{}
	}

	for i, d := range run {
		id := records[i].MessageID
		if _, bad := failed[id]; !bad {
			if err := d.Ack(false); err != nil {
				logger.Error("Failed to ack message", zap.String("message_id", id), zap.Error(err))
			}
			acked++
			continue
		}

		requeue := !d.Redelivered
		if err := d.Nack(false, requeue); err != nil {
			logger.Error("Failed to nack message", zap.String("message_id", id), zap.Error(err))
		}
		if requeue {
			requeued++
		} else {
			deadLettered++
		}
	}
	return acked, requeued, deadLettered
}

func messageID(d amqp.Delivery) string {
	if d.MessageId != "" {
		return d.MessageId
	}
	return fmt.Sprintf("delivery-%d", d.DeliveryTag)
}

// DeliveryToRecord converts an AMQP delivery into a QueueRecord. The message id falls back
// to the delivery tag; string, binary and numeric headers become attributes.
func DeliveryToRecord(d amqp.Delivery) model.QueueRecord {
	id := messageID(d)

	attrs := make(map[string]model.MessageAttribute, len(d.Headers))
	for name, value := range d.Headers {
		switch v := value.(type) {
		case string:
			attrs[name] = model.MessageAttribute{StringValue: v, DataType: "String"}
		case []byte:
			attrs[name] = model.MessageAttribute{StringValue: string(v), DataType: "Binary"}
		case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64, float32, float64:
			attrs[name] = model.MessageAttribute{StringValue: fmt.Sprint(v), DataType: "Number"}
		case bool:
			attrs[name] = model.MessageAttribute{StringValue: fmt.Sprint(v), DataType: "String"}
		}
	}

	return model.QueueRecord{MessageID: id, Body: string(d.Body), Attributes: attrs}
}
