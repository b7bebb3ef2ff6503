package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/config"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes one decoded queue message end to end.
type MessageHandler interface {
	Handle(ctx context.Context, body []byte) error
}

// QueueConsumer drains the intake queue with a pool of workers. Every
// message is acknowledged regardless of outcome: a failing message is
// logged (and parked on the DLQ when undecodable), never redelivered,
// so one poison message cannot block the queue. Domain-level retries go
// through the retry policy, not queue redelivery.
type QueueConsumer struct {
	channel         AMQPChannel
	handler         MessageHandler
	queueName       string
	consumerTag     string
	deadLetterQueue string
	workers         int
}

func NewQueueConsumer(channel AMQPChannel, cfg config.ConsumerConfig, handler MessageHandler) (*QueueConsumer, error) {
	err := channel.Qos(
		cfg.PrefetchCount, // prefetch count
		0,                 // prefetch size
		false,             // global
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	_, err = channel.QueueDeclare(
		cfg.QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	// Declare dead letter queue
	_, err = channel.QueueDeclare(
		cfg.DeadLetterQueue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare DLQ: %w", err)
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &QueueConsumer{
		channel:         channel,
		handler:         handler,
		queueName:       cfg.QueueName,
		consumerTag:     cfg.QueueName + "-consumer",
		deadLetterQueue: cfg.DeadLetterQueue,
		workers:         workers,
	}, nil
}

// StartConsuming blocks until the context is cancelled or the delivery
// channel closes. Cancellation stops intake by cancelling the consumer
// registration; messages already delivered keep a live context and run
// to completion, so no acked message dies mid-handle on shutdown.
func (q *QueueConsumer) StartConsuming(ctx context.Context) error {
	msgs, err := q.channel.Consume(
		q.queueName,
		q.consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("Consuming notification requests", "queue", q.queueName, "workers", q.workers)

	handlerCtx := context.WithoutCancel(ctx)
	drained := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			slog.Info("Stopping consumer, draining in-flight messages", "queue", q.queueName)
			if err := q.channel.Cancel(q.consumerTag, false); err != nil {
				slog.Error("Failed to cancel consumer", "queue", q.queueName, "error", err)
			}
		case <-drained:
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				q.processMessage(handlerCtx, msg)
			}
		}()
	}

	wg.Wait()
	close(drained)
	return ctx.Err()
}

// processMessage is the outermost error boundary for one message: any
// handler failure becomes a log entry, and the message is always acked.
func (q *QueueConsumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	err := q.handler.Handle(ctx, msg.Body)
	if err == nil {
		msg.Ack(false)
		return
	}

	var unprocessable *models.UnprocessableMessageError
	if errors.As(err, &unprocessable) {
		slog.Error("Unprocessable message parked on DLQ", "queue", q.queueName, "error", err)
		if dlqErr := q.sendToDeadLetter(ctx, msg); dlqErr != nil {
			slog.Error("Failed to park message on DLQ", "error", dlqErr)
		}
		msg.Ack(false)
		return
	}

	slog.Error("Error processing message", "queue", q.queueName, "error", err)
	msg.Ack(false)
}

func (q *QueueConsumer) sendToDeadLetter(ctx context.Context, msg amqp.Delivery) error {
	return q.channel.PublishWithContext(
		ctx,
		"",                // exchange
		q.deadLetterQueue, // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msg.Body,
			Headers:     msg.Headers,
		},
	)
}
