package event

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publishedMessage struct {
	Key string
	Msg amqp.Publishing
}

// fakeChannel satisfies AMQPChannel. Cancel closes the delivery channel
// the way a real broker stops a cancelled consumer.
type fakeChannel struct {
	mu         sync.Mutex
	deliveries chan amqp.Delivery
	declared   []string
	published  []publishedMessage
	cancelled  []string
	prefetch   int
	publishErr error
	closeOnce  sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, consumer)
	f.mu.Unlock()
	f.closeDeliveries()
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMessage{Key: key, Msg: msg})
	return nil
}

func (f *fakeChannel) closeDeliveries() {
	f.closeOnce.Do(func() { close(f.deliveries) })
}

func (f *fakeChannel) publishedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.published))
	for _, p := range f.published {
		keys = append(keys, p.Key)
	}
	return keys
}

// fakeAcknowledger counts delivery acknowledgements.
type fakeAcknowledger struct {
	mu    sync.Mutex
	acks  int
	nacks int
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks++
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acks, f.nacks
}

// handlerFunc adapts a function to MessageHandler.
type handlerFunc func(ctx context.Context, body []byte) error

func (h handlerFunc) Handle(ctx context.Context, body []byte) error {
	return h(ctx, body)
}
