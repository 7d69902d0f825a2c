// Package dispatchworker runs the background side of message delivery: the
// queue consumers that execute dispatch attempts and the poller that rescues
// rows whose queue signal was lost.
package dispatchworker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/docshare/portal-messaging/internal/dispatch"
	"github.com/docshare/portal-messaging/pkg/logging"
)

type messageDispatcher interface {
	Dispatch(ctx context.Context, id uuid.UUID) error
}

// Consumer long-polls the dispatch queue and hands message ids to the
// dispatcher. Queue entries are deleted after each handled attempt; the row's
// own next_attempt_at drives any further retries, so redelivery is never
// required for correctness.
type Consumer struct {
	queue       dispatch.Queue
	dispatcher  messageDispatcher
	logger      *logging.Logger
	workers     int
	batchSize   int
	waitSeconds int
}

func NewConsumer(queue dispatch.Queue, dispatcher messageDispatcher, logger *logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		queue:       queue,
		dispatcher:  dispatcher,
		logger:      logger,
		workers:     2,
		batchSize:   10,
		waitSeconds: 10,
	}
}

func (c *Consumer) WithWorkers(n int) *Consumer {
	if n > 0 {
		c.workers = n
	}
	return c
}

func (c *Consumer) WithBatchSize(n int) *Consumer {
	if n > 0 {
		c.batchSize = n
	}
	return c
}

// Run blocks until ctx is done, polling with the configured worker count.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.poll(ctx)
		}()
	}
	wg.Wait()
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := c.queue.Receive(ctx, c.batchSize, c.waitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("dispatch queue receive failed", "error", err)
			continue
		}
		for _, msg := range messages {
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg dispatch.QueueMessage) {
	id, err := uuid.Parse(msg.Body)
	if err != nil {
		c.logger.Error("dispatch queue message with malformed id", "error", err, "body", msg.Body)
		c.delete(ctx, msg)
		return
	}

	if err := c.dispatcher.Dispatch(ctx, id); err != nil {
		// Infrastructure failure: keep the queue entry so the broker
		// redelivers it after the visibility timeout.
		c.logger.Error("dispatch attempt failed", "error", err, "message_id", id)
		return
	}
	c.delete(ctx, msg)
}

func (c *Consumer) delete(ctx context.Context, msg dispatch.QueueMessage) {
	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		c.logger.Warn("dispatch queue delete failed", "error", err)
	}
}
