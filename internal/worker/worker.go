// Package worker drains the async intake queue and dispatches each request.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/cascade/internal/dispatch"
	"github.com/lalithlochan/cascade/internal/metrics"
	"github.com/lalithlochan/cascade/internal/sqs"
)

// Queue is the consumer side of the intake queue.
type Queue interface {
	Receive(ctx context.Context) ([]sqs.Delivery, error)
	Delete(ctx context.Context, receiptHandle string) error
	Release(ctx context.Context, receiptHandle string, seconds int32) error
}

// Dispatcher runs one dispatch.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

type Config struct {
	Concurrency int

	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration

	// RetryDelaySeconds is how long a message stays invisible after a
	// persistence failure before SQS redelivers it.
	RetryDelaySeconds int32
}

type Worker struct {
	queue      Queue
	dispatcher Dispatcher
	config     Config
	logger     *zap.Logger
	inFlight   atomic.Int64
}

func New(queue Queue, dispatcher Dispatcher, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if cfg.RetryDelaySeconds <= 0 {
		cfg.RetryDelaySeconds = 30
	}

	return &Worker{
		queue:      queue,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
	}
}

// Start runs Concurrency receive loops until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)

	for i := 0; i < w.config.Concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.logger.Info("worker started", zap.Int("worker_id", workerID))
			w.run(groupCtx, workerID)
			w.logger.Info("worker stopped", zap.Int("worker_id", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}

		deliveries, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive messages",
				zap.Int("worker_id", workerID),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.ErrorBackoff):
			}
			continue
		}

		for _, d := range deliveries {
			if ctx.Err() != nil {
				// Unhandled deliveries reappear after their visibility timeout.
				return
			}
			w.handle(ctx, d)
		}
	}
}

// handle dispatches one delivery. The message is deleted once the outcome
// is recorded, whether Delivered or Failed, and also when it can never be
// processed. It is kept for redelivery only when the audit store failed
// before any channel was tried.
func (w *Worker) handle(ctx context.Context, d sqs.Delivery) {
	metrics.SetSQSMessagesInFlight(int(w.inFlight.Add(1)))
	defer func() { metrics.SetSQSMessagesInFlight(int(w.inFlight.Add(-1))) }()

	log := w.logger.With(zap.String("message_id", d.MessageID))

	if d.DecodeErr != nil {
		log.Warn("dropping undecodable message", zap.Error(d.DecodeErr))
		w.delete(ctx, log, d.ReceiptHandle)
		return
	}

	req := d.Message.Request
	if err := req.Validate(); err != nil {
		log.Warn("dropping invalid request", zap.Error(err))
		w.delete(ctx, log, d.ReceiptHandle)
		return
	}

	res, err := w.dispatcher.Dispatch(ctx, req)
	if errors.Is(err, dispatch.ErrNotFinalized) {
		log.Error("dispatch not recorded after channels were tried, dropping message",
			zap.String("request_id", d.Message.RequestID),
			zap.String("event_type", req.EventType),
			zap.Error(err),
		)
		metrics.RecordUnrecordedDispatch()
		w.delete(ctx, log, d.ReceiptHandle)
		return
	}
	if err != nil {
		log.Error("dispatch failed, leaving message for redelivery",
			zap.String("request_id", d.Message.RequestID),
			zap.Error(err),
		)
		if relErr := w.queue.Release(context.WithoutCancel(ctx), d.ReceiptHandle, w.config.RetryDelaySeconds); relErr != nil {
			log.Warn("failed to change message visibility", zap.Error(relErr))
		}
		return
	}

	log.Info("queued request dispatched",
		zap.String("request_id", d.Message.RequestID),
		zap.String("notification_id", res.Notification.ID.String()),
		zap.String("status", res.Notification.Status),
		zap.Duration("queue_latency", time.Since(time.Unix(0, d.Message.EnqueuedAt))),
	)
	w.delete(ctx, log, d.ReceiptHandle)
}

func (w *Worker) delete(ctx context.Context, log *zap.Logger, receiptHandle string) {
	if err := w.queue.Delete(context.WithoutCancel(ctx), receiptHandle); err != nil {
		log.Error("failed to delete message", zap.Error(err))
	}
}
