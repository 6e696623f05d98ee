package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/bulkmailer/internal/zlog"
)

const (
	TopicDispatch = "campaign_dispatch"
	TopicDelivery = "campaign_deliveries"
)

// DispatchTask asks a worker to fan a claimed campaign out to its recipients.
type DispatchTask struct {
	CampaignID int `json:"campaign_id"`
}

// DeliveryTask asks a worker to send one campaign message to one recipient.
type DeliveryTask struct {
	CampaignID  int `json:"campaign_id"`
	RecipientID int `json:"recipient_id"`
}

// Handler processes one message body. A non-nil error asks the queue to
// deliver the message again, up to its redelivery limit.
type Handler func(ctx context.Context, body []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
}

// InMemoryQueue runs every published job on its own goroutine with retry.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]subscription
	wg       sync.WaitGroup

	MaxRetries int
	RetryDelay time.Duration
}

type subscription struct {
	ctx     context.Context
	handler Handler
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(maxRetries int, retryDelay time.Duration) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]subscription),
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
	}
}

// job wraps a message body with retry info
type job struct {
	MessageID  string
	Topic      string
	Body       []byte
	RetryCount int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(_ context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}

	q.mu.Lock()
	subs := q.handlers[topic]
	q.mu.Unlock()

	if len(subs) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	j := job{MessageID: uuid.NewString(), Topic: topic, Body: body}
	for _, sub := range subs {
		q.wg.Add(1)
		go q.processJob(sub, j)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(sub subscription, j job) {
	defer q.wg.Done()

	for j.RetryCount <= q.MaxRetries {
		if sub.ctx.Err() != nil {
			return
		}

		err := sub.handler(sub.ctx, j.Body)
		if err == nil {
			return // ACK
		}

		j.RetryCount++
		zlog.Logger.Warn().Err(err).
			Str("topic", j.Topic).
			Str("message_id", j.MessageID).
			Int("attempt", j.RetryCount).
			Msg("job failed")

		if j.RetryCount > q.MaxRetries {
			zlog.Logger.Error().
				Str("topic", j.Topic).
				Str("message_id", j.MessageID).
				Msgf("job permanently failed after %d retries", q.MaxRetries)
			return // No requeue
		}

		select {
		case <-sub.ctx.Done():
			return
		case <-time.After(time.Duration(j.RetryCount) * q.RetryDelay):
		}
	}
}

// Subscribe adds a handler for a topic. Jobs stop retrying once ctx is done.
func (q *InMemoryQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], subscription{ctx: ctx, handler: handler})
	return nil
}

// Wait blocks until every published job, including jobs published by
// handlers, has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// Decode unmarshals a message body into T.
func Decode[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("decode task: %w", err)
	}
	return v, nil
}
