package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"story-text-worker/internal/model"
)

// RoutingKeyTasksCreated: ключ маршрутизации события о созданных задачах.
const RoutingKeyTasksCreated = "story.tasks.created"

const appID = "story-text-worker"

// TaskNotifier сообщает downstream-воркерам о готовых задачах истории.
type TaskNotifier interface {
	NotifyTasksCreated(ctx context.Context, event model.TasksCreatedEvent) error
}

// PublishChannel: подмножество *amqp.Channel, нужное нотификатору.
type PublishChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type rabbitMQNotifier struct {
	channel  PublishChannel
	exchange string
	logger   *zap.Logger
}

// NewRabbitMQNotifier declares the durable topic exchange and returns a TaskNotifier
// publishing to it. The channel is owned and closed by the caller.
func NewRabbitMQNotifier(ch PublishChannel, exchange string, logger *zap.Logger) (TaskNotifier, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("не удалось объявить exchange событий '%s': %w", exchange, err)
	}
	logger = logger.Named("TaskNotifier")
	logger.Info("Events exchange declared", zap.String("exchange", exchange))
	return &rabbitMQNotifier{channel: ch, exchange: exchange, logger: logger}, nil
}

func (n *rabbitMQNotifier) NotifyTasksCreated(ctx context.Context, event model.TasksCreatedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode tasks created event for story %s: %w", event.StoryID, err)
	}

	err = n.channel.PublishWithContext(ctx,
		n.exchange,
		RoutingKeyTasksCreated,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			AppId:        appID,
			MessageId:    event.StoryID + "-tasks-created",
		},
	)
	if err != nil {
		n.logger.Error("Failed to publish tasks created event", zap.String("story_id", event.StoryID), zap.Error(err))
		return fmt.Errorf("publish tasks created event for story %s: %w", event.StoryID, err)
	}

	n.logger.Debug("Tasks created event published", zap.String("story_id", event.StoryID))
	return nil
}
