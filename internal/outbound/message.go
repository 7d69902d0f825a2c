package outbound

import (
	"time"

	"github.com/google/uuid"
)

// Channel identifies the delivery channel for an outbound message.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// Status is the delivery lifecycle state of an outbound message.
type Status string

const (
	// StatusQueued is the initial state; also re-entered after a transient
	// send failure so the retry machinery can pick the message up again.
	StatusQueued Status = "queued"
	// StatusSending marks a message claimed by a dispatch worker. A message
	// must never be left in this state across a worker failure path.
	StatusSending Status = "sending"
	// StatusSent means a provider accepted the message.
	StatusSent Status = "sent"
	// StatusDelivered is terminal, confirmed by a provider webhook.
	StatusDelivered Status = "delivered"
	// StatusFailed is terminal, set by webhook-confirmed permanent failure
	// or a permanent provider rejection.
	StatusFailed Status = "failed"
)

// forwardTransitions encodes the allowed status moves. Duplicate-suppressed
// messages jump queued -> sent directly; sending -> queued is the retry reset.
var forwardTransitions = map[Status][]Status{
	StatusQueued:  {StatusSending, StatusSent, StatusFailed},
	StatusSending: {StatusSent, StatusQueued, StatusFailed},
	StatusSent:    {StatusDelivered, StatusFailed},
}

// canTransition reports whether moving from one status to another is legal.
func canTransition(from, to Status) bool {
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Message is one attempted delivery of rendered text to one recipient over
// one channel. Rows are never deleted; the recipient fields stay mutable for
// post-retention anonymization.
type Message struct {
	ID                uuid.UUID
	ClinicID          uuid.UUID
	ShareRef          *uuid.UUID
	Channel           Channel
	Recipient         string
	ToEmail           string
	Language          string
	TemplateKey       string
	BodyRendered      string
	ProviderMessageID string
	Status            Status
	StatusMeta        map[string]any
	DedupeKey         string
	Attempts          int
	NextAttemptAt     *time.Time
	CreatedAt         time.Time
}
