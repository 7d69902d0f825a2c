package dispatchworker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/docshare/portal-messaging/internal/dispatch"
	"github.com/docshare/portal-messaging/pkg/logging"
)

type retryStore interface {
	ListDue(ctx context.Context, limit, maxAttempts int) ([]uuid.UUID, error)
	RescueStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// Requeuer periodically re-signals queued rows whose next attempt is due.
// It is the safety net for three gaps: a lost queue publish at create time,
// the delay between a release-for-retry and its next attempt, and rows
// stranded in sending by a worker that died mid-claim. Rows at the attempt
// cap are left alone.
type Requeuer struct {
	store       retryStore
	queue       dispatch.Queue
	logger      *logging.Logger
	interval    time.Duration
	batch       int
	maxAttempts int
	staleAfter  time.Duration
}

func NewRequeuer(store retryStore, queue dispatch.Queue, maxAttempts int, logger *logging.Logger) *Requeuer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Requeuer{
		store:       store,
		queue:       queue,
		logger:      logger,
		interval:    30 * time.Second,
		batch:       50,
		maxAttempts: maxAttempts,
		staleAfter:  5 * time.Minute,
	}
}

func (r *Requeuer) WithInterval(d time.Duration) *Requeuer {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *Requeuer) WithBatchSize(n int) *Requeuer {
	if n > 0 {
		r.batch = n
	}
	return r
}

// WithStaleClaimAge sets how long a row may sit in sending before its claim
// is presumed dead. Must exceed the dispatcher's provider timeout or a slow
// send still in flight would be reset underneath its worker.
func (r *Requeuer) WithStaleClaimAge(d time.Duration) *Requeuer {
	if d > 0 {
		r.staleAfter = d
	}
	return r
}

// Run blocks until ctx is done, draining once per interval.
func (r *Requeuer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

func (r *Requeuer) drain(ctx context.Context) {
	// Rescue before scanning: reset rows move to queued with an immediate
	// next_attempt_at, so the due scan below republishes them.
	rescued, err := r.store.RescueStale(ctx, time.Now().Add(-r.staleAfter), r.batch)
	if err != nil {
		r.logger.Error("stale claim rescue failed", "error", err)
	}
	for _, id := range rescued {
		r.logger.Warn("rescued message stranded in sending", "message_id", id)
	}

	ids, err := r.store.ListDue(ctx, r.batch, r.maxAttempts)
	if err != nil {
		r.logger.Error("requeue scan failed", "error", err)
		return
	}
	for _, id := range ids {
		if err := r.queue.Publish(ctx, id); err != nil {
			r.logger.Warn("requeue publish failed", "error", err, "message_id", id)
			continue
		}
		r.logger.Info("message re-signaled for dispatch", "message_id", id)
	}
}
