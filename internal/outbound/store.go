package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound indicates the message id does not exist.
var ErrNotFound = errors.New("outbound: message not found")

// ErrClaimLost indicates another worker re-claimed the row between this
// worker's claim and its final write.
var ErrClaimLost = errors.New("outbound: claim lost")

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists outbound messages in Postgres. All status transitions run
// through conditional updates so concurrent workers never block on row locks.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// Insert persists a new message and returns its id.
func (s *Store) Insert(ctx context.Context, m *Message) (uuid.UUID, error) {
	if m.StatusMeta == nil {
		m.StatusMeta = map[string]any{}
	}
	meta, err := json.Marshal(m.StatusMeta)
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbound: marshal status meta: %w", err)
	}
	query := `
		INSERT INTO outbound_messages (
			clinic_id, share_ref, channel, recipient, to_email, language,
			template_key, body_rendered, provider_message_id, status,
			status_meta, dedupe_key, attempts, next_attempt_at
		)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,NULLIF($9,''),$10,$11,$12,$13,$14)
		RETURNING id
	`
	var id uuid.UUID
	if err := s.pool.QueryRow(ctx, query,
		m.ClinicID, m.ShareRef, m.Channel, m.Recipient, m.ToEmail, m.Language,
		m.TemplateKey, m.BodyRendered, m.ProviderMessageID, m.Status,
		meta, m.DedupeKey, m.Attempts, m.NextAttemptAt,
	).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("outbound: insert message: %w", err)
	}
	m.ID = id
	return id, nil
}

// HasDedupeKey reports whether any existing row carries the fingerprint.
func (s *Store) HasDedupeKey(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM outbound_messages WHERE dedupe_key = $1 LIMIT 1`, key).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("outbound: check dedupe key: %w", err)
	}
	return true, nil
}

// Get loads one message by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `
		SELECT id, clinic_id, share_ref, channel, recipient, COALESCE(to_email, ''),
			language, template_key, body_rendered, COALESCE(provider_message_id, ''),
			status, status_meta, dedupe_key, attempts, next_attempt_at, created_at
		FROM outbound_messages
		WHERE id = $1
	`
	m, err := scanMessage(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("outbound: get message: %w", err)
	}
	return m, nil
}

// ClaimOutcome reports the result of a claim attempt. When Claimed is false,
// Status holds the row's current state so the caller can decide whether the
// work is already done.
type ClaimOutcome struct {
	Claimed bool
	Status  Status
}

// ClaimForSending atomically moves a queued message to sending and stamps the
// worker's claim token. The update is a compare-and-swap: a row claimed by a
// concurrent worker, or already past queued, is skipped rather than waited on.
func (s *Store) ClaimForSending(ctx context.Context, id, token uuid.UUID) (ClaimOutcome, error) {
	query := `
		UPDATE outbound_messages
		SET status = $3, claim_token = $2, updated_at = now()
		WHERE id = $1 AND status = $4
	`
	ct, err := s.pool.Exec(ctx, query, id, token, StatusSending, StatusQueued)
	if err != nil {
		return ClaimOutcome{}, fmt.Errorf("outbound: claim message: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return ClaimOutcome{Claimed: true, Status: StatusSending}, nil
	}

	var status Status
	if err := s.pool.QueryRow(ctx, `SELECT status FROM outbound_messages WHERE id = $1`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ClaimOutcome{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return ClaimOutcome{}, fmt.Errorf("outbound: read status after claim miss: %w", err)
	}
	return ClaimOutcome{Claimed: false, Status: status}, nil
}

// MarkSent finalizes a successful provider call. The write is guarded by the
// claim token so a stale worker cannot clobber a fresher transition.
func (s *Store) MarkSent(ctx context.Context, id, token uuid.UUID, providerMessageID string, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("outbound: marshal provider meta: %w", err)
	}
	query := `
		UPDATE outbound_messages
		SET status = $4,
			provider_message_id = NULLIF($3, ''),
			status_meta = status_meta || $5::jsonb,
			claim_token = NULL,
			next_attempt_at = NULL,
			updated_at = now()
		WHERE id = $1 AND claim_token = $2 AND status = $6
	`
	ct, err := s.pool.Exec(ctx, query, id, token, providerMessageID, StatusSent, payload, StatusSending)
	if err != nil {
		return fmt.Errorf("outbound: mark sent: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrClaimLost, id)
	}
	return nil
}

// ReleaseToQueued resets a claimed message after a transient failure so the
// retry machinery re-attempts it. nextAttempt schedules the requeue; attempts
// is incremented here, inside the same conditional write.
func (s *Store) ReleaseToQueued(ctx context.Context, id, token uuid.UUID, detail string, nextAttempt *time.Time) error {
	payload, err := json.Marshal(map[string]any{"last_error": detail})
	if err != nil {
		return fmt.Errorf("outbound: marshal failure detail: %w", err)
	}
	query := `
		UPDATE outbound_messages
		SET status = $4,
			attempts = attempts + 1,
			status_meta = status_meta || $5::jsonb,
			claim_token = NULL,
			next_attempt_at = $3,
			updated_at = now()
		WHERE id = $1 AND claim_token = $2 AND status = $6
	`
	ct, err := s.pool.Exec(ctx, query, id, token, nextAttempt, StatusQueued, payload, StatusSending)
	if err != nil {
		return fmt.Errorf("outbound: release to queued: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrClaimLost, id)
	}
	return nil
}

// MarkFailed terminates a claimed message after a permanent provider
// rejection that retrying cannot fix.
func (s *Store) MarkFailed(ctx context.Context, id, token uuid.UUID, detail string) error {
	payload, err := json.Marshal(map[string]any{"permanent_error": detail})
	if err != nil {
		return fmt.Errorf("outbound: marshal failure detail: %w", err)
	}
	query := `
		UPDATE outbound_messages
		SET status = $3,
			attempts = attempts + 1,
			status_meta = status_meta || $4::jsonb,
			claim_token = NULL,
			next_attempt_at = NULL,
			updated_at = now()
		WHERE id = $1 AND claim_token = $2 AND status = $5
	`
	ct, err := s.pool.Exec(ctx, query, id, token, StatusFailed, payload, StatusSending)
	if err != nil {
		return fmt.Errorf("outbound: mark failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrClaimLost, id)
	}
	return nil
}

// statusGuards lists the states a webhook-driven transition may move from.
// The guards make webhook application commutative and replay-safe: an event
// arriving twice, or after a later state was already reached, matches zero
// rows instead of regressing the lifecycle.
var statusGuards = map[Status][]string{
	StatusSent:      {string(StatusSent)},
	StatusDelivered: {string(StatusSent)},
	StatusFailed:    {string(StatusQueued), string(StatusSent)},
}

// ApplyProviderStatus applies a delivery event keyed by provider message id,
// appending the raw event to status_meta for audit. Returns false when no row
// matched, either because the id is untracked or the transition is stale.
func (s *Store) ApplyProviderStatus(ctx context.Context, channel Channel, providerMessageID string, target Status, rawEvent []byte) (bool, error) {
	return s.applyProviderStatus(ctx, channel, providerMessageID, target, rawEvent, false)
}

// ApplyProviderStatusByPrefix matches provider ids on prefix. SendGrid event
// payloads carry sg_message_id values with routing suffixes appended to the
// id the send API returned.
func (s *Store) ApplyProviderStatusByPrefix(ctx context.Context, channel Channel, idPrefix string, target Status, rawEvent []byte) (bool, error) {
	return s.applyProviderStatus(ctx, channel, idPrefix, target, rawEvent, true)
}

func (s *Store) applyProviderStatus(ctx context.Context, channel Channel, providerID string, target Status, rawEvent []byte, prefix bool) (bool, error) {
	guards, ok := statusGuards[target]
	if !ok {
		return false, fmt.Errorf("outbound: status %q is not webhook-assignable", target)
	}
	if len(rawEvent) == 0 {
		rawEvent = []byte("{}")
	}
	match := `provider_message_id = $2`
	if prefix {
		match = `provider_message_id LIKE $2 || '%'`
	}
	query := `
		UPDATE outbound_messages
		SET status = $3,
			status_meta = jsonb_set(
				status_meta,
				'{events}',
				COALESCE(status_meta->'events', '[]'::jsonb) || $4::jsonb
			),
			updated_at = now()
		WHERE channel = $1 AND ` + match + ` AND status = ANY($5)
	`
	ct, err := s.pool.Exec(ctx, query, channel, providerID, target, rawEvent, guards)
	if err != nil {
		return false, fmt.Errorf("outbound: apply provider status: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ListDue returns queued messages whose retry (or rescue) time has passed.
// Rows at the attempt cap stay queued but are never returned; they need
// operator attention, which the dashboard projection surfaces.
func (s *Store) ListDue(ctx context.Context, limit, maxAttempts int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM outbound_messages
		WHERE status = $1
			AND attempts < $2
			AND next_attempt_at IS NOT NULL
			AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, StatusQueued, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("outbound: list due messages: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("outbound: scan due message: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RescueStale returns messages abandoned mid-claim to queued. A worker that
// dies between claiming and finalizing leaves its row in sending with no
// surviving claim holder; once updated_at falls behind the cutoff the row is
// reset for immediate redelivery. The crash does not charge an attempt.
func (s *Store) RescueStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		UPDATE outbound_messages
		SET status = $1,
			claim_token = NULL,
			next_attempt_at = now(),
			updated_at = now()
		WHERE id IN (
			SELECT id FROM outbound_messages
			WHERE status = $2 AND updated_at < $3
			ORDER BY updated_at
			LIMIT $4
		)
		RETURNING id
	`
	rows, err := s.pool.Query(ctx, query, StatusQueued, StatusSending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("outbound: rescue stale claims: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("outbound: scan rescued message: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListFilter narrows the dashboard read projection.
type ListFilter struct {
	ClinicID uuid.UUID
	Channel  Channel
	Status   Status
	Since    *time.Time
	Limit    int
}

// List returns messages for the operational dashboard, newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*Message, error) {
	var (
		conds = []string{"clinic_id = $1"}
		args  = []any{f.ClinicID}
	)
	if f.Channel != "" {
		args = append(args, f.Channel)
		conds = append(conds, "channel = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		conds = append(conds, "created_at >= $"+strconv.Itoa(len(args)))
	}
	limit := f.Limit
	switch {
	case limit <= 0:
		limit = 100
	case limit > 500:
		limit = 500
	}
	args = append(args, limit)

	query := `
		SELECT id, clinic_id, share_ref, channel, recipient, COALESCE(to_email, ''),
			language, template_key, body_rendered, COALESCE(provider_message_id, ''),
			status, status_meta, dedupe_key, attempts, next_attempt_at, created_at
		FROM outbound_messages
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY created_at DESC
		LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outbound: list messages: %w", err)
	}
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("outbound: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		m    Message
		meta []byte
	)
	if err := row.Scan(
		&m.ID, &m.ClinicID, &m.ShareRef, &m.Channel, &m.Recipient, &m.ToEmail,
		&m.Language, &m.TemplateKey, &m.BodyRendered, &m.ProviderMessageID,
		&m.Status, &meta, &m.DedupeKey, &m.Attempts, &m.NextAttemptAt, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.StatusMeta); err != nil {
			return nil, fmt.Errorf("decode status meta: %w", err)
		}
	}
	return &m, nil
}
