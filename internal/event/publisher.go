package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// IEventPublisher is the outbound surface of the engine: lifecycle
// events for downstream consumers and retry requests re-entering the
// intake queue.
type IEventPublisher interface {
	PublishCommEvent(ctx context.Context, event *models.CommEvent) error
	PublishNotificationRequest(ctx context.Context, request *models.NotificationRequest) error
}

// PublisherStats is a snapshot of publish counters, exposed on the
// stats endpoint.
type PublisherStats struct {
	MessagesPublished int64     `json:"messages_published"`
	MessagesFailed    int64     `json:"messages_failed"`
	LastPublishTime   time.Time `json:"last_publish_time"`
}

// CommsPublisher publishes engine output to RabbitMQ. Counters are
// atomics because every consumer worker publishes through the same
// instance.
type CommsPublisher struct {
	channel           AMQPChannel
	eventsQueue       string
	requestQueue      string
	messagesPublished atomic.Int64
	messagesFailed    atomic.Int64
	lastPublishNano   atomic.Int64
}

func NewCommsPublisher(channel AMQPChannel, eventsQueue, requestQueue string) *CommsPublisher {
	return &CommsPublisher{
		channel:      channel,
		eventsQueue:  eventsQueue,
		requestQueue: requestQueue,
	}
}

// PublishCommEvent publishes a lifecycle event to the comms events queue.
func (p *CommsPublisher) PublishCommEvent(ctx context.Context, event *models.CommEvent) error {
	if err := p.publish(ctx, p.eventsQueue, event); err != nil {
		return err
	}

	slog.Info("Comm event published",
		"queue", p.eventsQueue,
		"event_type", event.Type,
		"message_id", event.ID,
		"source", event.Source,
	)

	return nil
}

// PublishNotificationRequest re-enqueues a retry request onto the
// intake queue, where it is consumed exactly like a fresh request.
func (p *CommsPublisher) PublishNotificationRequest(ctx context.Context, request *models.NotificationRequest) error {
	if err := p.publish(ctx, p.requestQueue, request); err != nil {
		return err
	}

	slog.Info("Notification request published",
		"queue", p.requestQueue,
		"message_id", request.ID,
		"request_type", request.Type,
	)

	return nil
}

// GetStats returns a snapshot of the publish counters.
func (p *CommsPublisher) GetStats() PublisherStats {
	stats := PublisherStats{
		MessagesPublished: p.messagesPublished.Load(),
		MessagesFailed:    p.messagesFailed.Load(),
	}
	if nano := p.lastPublishNano.Load(); nano > 0 {
		stats.LastPublishTime = time.Unix(0, nano)
	}
	return stats
}

func (p *CommsPublisher) publish(ctx context.Context, queue string, payload any) error {
	// Ensure the queue exists
	_, err := p.channel.QueueDeclare(
		queue, // queue name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key (queue name)
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.messagesPublished.Add(1)
	p.lastPublishNano.Store(time.Now().UnixNano())

	return nil
}
