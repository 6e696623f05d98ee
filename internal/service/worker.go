package service

import (
	"context"
	"errors"

	appErrors "github.com/unclebandit/bulkmailer/internal/errors"
	"github.com/unclebandit/bulkmailer/internal/queue"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

// Worker consumes dispatch and delivery tasks from the queue.
type Worker struct {
	Queue      queue.Queue
	Dispatcher *Dispatcher
	Executor   *DeliveryExecutor
}

// Constructor
func NewWorker(q queue.Queue, d *Dispatcher, e *DeliveryExecutor) *Worker {
	return &Worker{
		Queue:      q,
		Dispatcher: d,
		Executor:   e,
	}
}

// Start subscribes both task handlers. Handlers stop when ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Queue.Subscribe(ctx, queue.TopicDispatch, w.handleDispatch); err != nil {
		return err
	}
	if err := w.Queue.Subscribe(ctx, queue.TopicDelivery, w.handleDelivery); err != nil {
		return err
	}
	zlog.Logger.Info().Msg("👷 Worker subscribed to campaign topics")
	return nil
}

func (w *Worker) handleDispatch(ctx context.Context, body []byte) error {
	task, err := queue.Decode[queue.DispatchTask](body)
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("⚠️ invalid dispatch task, dropping")
		return nil
	}
	_, err = w.Dispatcher.Dispatch(ctx, task.CampaignID)
	return redeliverable(err)
}

func (w *Worker) handleDelivery(ctx context.Context, body []byte) error {
	task, err := queue.Decode[queue.DeliveryTask](body)
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("⚠️ invalid delivery task, dropping")
		return nil
	}
	return redeliverable(w.Executor.Deliver(ctx, task.CampaignID, task.RecipientID))
}

// redeliverable keeps only errors worth another attempt. A task naming a
// campaign or recipient that does not exist will never succeed.
func redeliverable(err error) error {
	if err == nil {
		return nil
	}
	if appErrors.IsCampaignNotFound(err) || errors.Is(err, appErrors.ErrRecipientNotFound) {
		zlog.Logger.Warn().Err(err).Msg("⚠️ task references a missing record, dropping")
		return nil
	}
	return err
}
