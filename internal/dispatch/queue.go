// Package dispatch owns the delivery pipeline between a queued row and the
// provider call: the queue that carries message ids, the claim-and-send
// state machine, and the retry policy for transient provider failures.
package dispatch

import (
	"context"

	"github.com/google/uuid"
)

// Queue carries outbound message ids from the enqueue boundary to the
// dispatch worker. The row in Postgres stays the source of truth; the queue
// only signals that a row is ready.
type Queue interface {
	Publish(ctx context.Context, id uuid.UUID) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one received queue entry. Body holds the outbound message
// id as a plain uuid string.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}
