package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/unclebandit/bulkmailer/internal/zlog"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes tasks to durable RabbitMQ queues, one per topic. A
// failed message is republished with an incremented x-retry-count header and
// dead-lettered to "<topic>.dlq" once the limit is reached.
type AMQPQueue struct {
	conn *amqp.Connection

	mu       sync.Mutex
	pub      *amqp.Channel
	declared map[string]bool

	prefetch        int
	maxRedeliveries int
}

// DialAMQP connects to the broker at url.
func DialAMQP(url string, prefetch, maxRedeliveries int) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}

	zlog.Logger.Info().Msg("🐇 Connected to RabbitMQ")
	return &AMQPQueue{
		conn:            conn,
		pub:             ch,
		declared:        make(map[string]bool),
		prefetch:        prefetch,
		maxRedeliveries: maxRedeliveries,
	}, nil
}

// declare creates topic and its dead-letter queue. Callers hold q.mu when ch
// is the publish channel.
func (q *AMQPQueue) declare(ch *amqp.Channel, topic string) error {
	if _, err := ch.QueueDeclare(deadLetterQueue(topic), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", deadLetterQueue(topic), err)
	}
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": deadLetterQueue(topic),
		},
	)
	if err != nil {
		return fmt.Errorf("declare %s: %w", topic, err)
	}
	return nil
}

func (q *AMQPQueue) Publish(_ context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return q.publish(topic, newPublishing(body, 0))
}

func (q *AMQPQueue) publish(topic string, msg amqp.Publishing) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.declared[topic] {
		if err := q.declare(q.pub, topic); err != nil {
			return err
		}
		q.declared[topic] = true
	}
	if err := q.pub.Publish("", topic, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a consumer on its own channel. It returns once the
// consumer is registered; deliveries are handled until ctx is done.
func (q *AMQPQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}
	if err := q.declare(ch, topic); err != nil {
		ch.Close()
		return err
	}

	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("register consumer on %s: %w", topic, err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					zlog.Logger.Warn().Str("topic", topic).Msg("consumer channel closed")
					return
				}
				q.handle(ctx, topic, d, handler)
			}
		}
	}()
	return nil
}

func (q *AMQPQueue) handle(ctx context.Context, topic string, d amqp.Delivery, handler Handler) {
	err := handler(ctx, d.Body)
	if err == nil {
		d.Ack(false)
		return
	}

	retries := retryCount(d.Headers)
	log := zlog.Logger.With().
		Str("topic", topic).
		Str("message_id", d.MessageId).
		Int("attempt", retries+1).
		Logger()

	if retries >= q.maxRedeliveries {
		log.Error().Err(err).Msg("job permanently failed, dead-lettering")
		d.Nack(false, false)
		return
	}

	log.Warn().Err(err).Msg("job failed, requeueing")
	retry := newPublishing(d.Body, retries+1)
	retry.MessageId = d.MessageId
	if perr := q.publish(topic, retry); perr != nil {
		log.Error().Err(perr).Msg("requeue failed, returning message to broker")
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

// Close shuts down the publish channel and the connection.
func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pub.Close()
	return q.conn.Close()
}

func newPublishing(body []byte, retries int) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Headers:      amqp.Table{retryHeader: int32(retries)},
		Body:         body,
	}
}

func deadLetterQueue(topic string) string {
	return topic + ".dlq"
}

// retryCount reads x-retry-count. The broker decodes integers as int32 or
// int64 depending on the publisher.
func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
