package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docshare/portal-messaging/pkg/logging"
)

// DuplicateNote is recorded in status_meta when the dedupe gate suppresses a
// send.
const DuplicateNote = "duplicate-suppressed"

type messageStore interface {
	Insert(ctx context.Context, m *Message) (uuid.UUID, error)
	HasDedupeKey(ctx context.Context, key string) (bool, error)
}

type dispatchPublisher interface {
	Publish(ctx context.Context, id uuid.UUID) error
}

type serviceMetrics interface {
	ObserveCreated(channel string, suppressed bool)
}

// Service is the enqueue boundary: it persists a rendered message and then
// signals the dispatch queue as two explicit, sequential steps. The row is the
// durable source of truth; the queue publish is a hint, backed up by the
// requeue poller.
type Service struct {
	store   messageStore
	queue   dispatchPublisher
	metrics serviceMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewService(store messageStore, queue dispatchPublisher, metrics serviceMetrics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:   store,
		queue:   queue,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateInput carries a fully-rendered message from the share-creation
// collaborator. Rendering happens before this boundary.
type CreateInput struct {
	ClinicID     uuid.UUID
	ShareRef     *uuid.UUID
	Channel      Channel
	Recipient    string
	ToEmail      string
	Language     string
	TemplateKey  string
	BodyRendered string
}

func (in CreateInput) validate() error {
	switch in.Channel {
	case ChannelWhatsApp, ChannelEmail:
	default:
		return fmt.Errorf("outbound: unsupported channel %q", in.Channel)
	}
	if in.Channel == ChannelWhatsApp && in.Recipient == "" {
		return errors.New("outbound: recipient required for whatsapp")
	}
	if in.Channel == ChannelEmail && in.ToEmail == "" {
		return errors.New("outbound: to_email required for email")
	}
	if in.TemplateKey == "" {
		return errors.New("outbound: template_key required")
	}
	if in.BodyRendered == "" {
		return errors.New("outbound: rendered body required")
	}
	return nil
}

// Create persists the message and triggers dispatch. When the dedupe gate
// detects an identical send inside the current hour bucket, the row is stored
// already sent with a duplicate marker and no dispatch fires.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Message, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	recipient := in.Recipient
	if in.Channel == ChannelEmail {
		recipient = in.ToEmail
	}
	key := DedupeKey(in.Channel, recipient, in.TemplateKey, in.Language, in.BodyRendered, now)

	duplicate, err := s.store.HasDedupeKey(ctx, key)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ClinicID:     in.ClinicID,
		ShareRef:     in.ShareRef,
		Channel:      in.Channel,
		Recipient:    in.Recipient,
		ToEmail:      in.ToEmail,
		Language:     in.Language,
		TemplateKey:  in.TemplateKey,
		BodyRendered: in.BodyRendered,
		DedupeKey:    key,
		StatusMeta:   map[string]any{},
	}

	if duplicate {
		msg.Status = StatusSent
		msg.StatusMeta = map[string]any{"note": DuplicateNote}
		if _, err := s.store.Insert(ctx, msg); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.ObserveCreated(string(in.Channel), true)
		}
		s.logger.Info("duplicate send suppressed",
			"message_id", msg.ID,
			"channel", msg.Channel,
			"template_key", msg.TemplateKey,
		)
		return msg, nil
	}

	msg.Status = StatusQueued
	// next_attempt_at doubles as the outbox rescue marker: if the queue
	// publish below is lost, the requeue poller re-signals this row.
	rescue := now
	msg.NextAttemptAt = &rescue
	if _, err := s.store.Insert(ctx, msg); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveCreated(string(in.Channel), false)
	}

	if err := s.queue.Publish(ctx, msg.ID); err != nil {
		// The row stays queued with a due rescue time; the poller will
		// re-signal it, so enqueue failures are not surfaced to callers.
		s.logger.Error("dispatch publish failed, relying on requeue poller",
			"error", err, "message_id", msg.ID)
	}
	return msg, nil
}
