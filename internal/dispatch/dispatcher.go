package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/internal/provider"
	"github.com/docshare/portal-messaging/pkg/logging"
)

var dispatchTracer = otel.Tracer("docshare.internal.dispatch")

type messageStore interface {
	Get(ctx context.Context, id uuid.UUID) (*outbound.Message, error)
	ClaimForSending(ctx context.Context, id, token uuid.UUID) (outbound.ClaimOutcome, error)
	MarkSent(ctx context.Context, id, token uuid.UUID, providerMessageID string, meta map[string]any) error
	ReleaseToQueued(ctx context.Context, id, token uuid.UUID, detail string, nextAttempt *time.Time) error
	MarkFailed(ctx context.Context, id, token uuid.UUID, detail string) error
}

type providerRegistry interface {
	ForChannel(channel outbound.Channel) (provider.Provider, error)
}

type dispatchMetrics interface {
	ObserveDispatch(channel, outcome string)
}

// Dispatcher executes one delivery attempt: claim the row, call the provider
// outside any database lock, then finalize with a claim-guarded write.
type Dispatcher struct {
	store     messageStore
	providers providerRegistry
	policy    RetryPolicy
	timeout   time.Duration
	metrics   dispatchMetrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewDispatcher(store messageStore, providers providerRegistry, policy RetryPolicy, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:     store,
		providers: providers,
		policy:    policy,
		timeout:   20 * time.Second,
		logger:    logger,
		now:       time.Now,
	}
}

// WithProviderTimeout overrides the per-send deadline.
func (d *Dispatcher) WithProviderTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// WithMetrics attaches dispatch outcome counters.
func (d *Dispatcher) WithMetrics(m dispatchMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// Dispatch processes one queued message id. It returns an error only for
// infrastructure failures where redelivery might help; provider outcomes
// (sent, released for retry, failed permanently) are absorbed after being
// written to the row.
func (d *Dispatcher) Dispatch(ctx context.Context, id uuid.UUID) error {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.message")
	defer span.End()
	span.SetAttributes(attribute.String("docshare.message_id", id.String()))

	token := uuid.New()
	outcome, err := d.store.ClaimForSending(ctx, id, token)
	if err != nil {
		if errors.Is(err, outbound.ErrNotFound) {
			d.logger.Warn("dispatch signal for unknown message", "message_id", id)
			return nil
		}
		return err
	}
	if !outcome.Claimed {
		// Duplicate queue delivery or a concurrent worker. Terminal and
		// in-flight rows alike need nothing from us.
		d.logger.Debug("dispatch claim skipped",
			"message_id", id,
			"status", outcome.Status,
		)
		return nil
	}

	msg, err := d.store.Get(ctx, id)
	if err != nil {
		// Give the row back so the requeue poller can retry the read.
		next := d.now()
		if relErr := d.store.ReleaseToQueued(ctx, id, token, "read after claim failed", &next); relErr != nil {
			d.logger.Error("release after failed read", "error", relErr, "message_id", id)
		}
		return err
	}

	sender, err := d.providers.ForChannel(msg.Channel)
	if err != nil {
		// No sender can ever exist for this row. Permanent.
		d.observe(string(msg.Channel), "failed")
		return d.store.MarkFailed(ctx, id, token, err.Error())
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	res, sendErr := sender.Send(sendCtx, *msg)
	cancel()

	switch {
	case sendErr == nil:
		if err := d.store.MarkSent(ctx, id, token, res.ProviderMessageID, res.Metadata); err != nil {
			if errors.Is(err, outbound.ErrClaimLost) {
				d.logger.Warn("claim lost before mark sent", "message_id", id)
				return nil
			}
			return err
		}
		d.observe(string(msg.Channel), "sent")
		d.logger.Info("message dispatched",
			"message_id", id,
			"channel", msg.Channel,
			"provider", sender.Name(),
			"provider_message_id", res.ProviderMessageID,
		)
		return nil

	case provider.IsPermanent(sendErr):
		if err := d.store.MarkFailed(ctx, id, token, sendErr.Error()); err != nil {
			if errors.Is(err, outbound.ErrClaimLost) {
				return nil
			}
			return err
		}
		d.observe(string(msg.Channel), "failed")
		d.logger.Error("message failed permanently",
			"error", sendErr,
			"message_id", id,
			"channel", msg.Channel,
			"provider", sender.Name(),
		)
		return nil

	default:
		attempts := msg.Attempts + 1
		next := d.now().Add(d.policy.Delay(attempts))
		if err := d.store.ReleaseToQueued(ctx, id, token, sendErr.Error(), &next); err != nil {
			if errors.Is(err, outbound.ErrClaimLost) {
				return nil
			}
			return err
		}
		outcome := "retried"
		if d.policy.Exhausted(attempts) {
			// The row stays queued with attempts at the cap; the requeue
			// poller skips it and the dashboard surfaces it for operators.
			outcome = "exhausted"
		}
		d.observe(string(msg.Channel), outcome)
		d.logger.Warn("message released for retry",
			"error", sendErr,
			"message_id", id,
			"channel", msg.Channel,
			"attempts", attempts,
			"next_attempt_at", next,
			"exhausted", outcome == "exhausted",
		)
		return nil
	}
}

func (d *Dispatcher) observe(channel, outcome string) {
	if d.metrics != nil {
		d.metrics.ObserveDispatch(channel, outcome)
	}
}
