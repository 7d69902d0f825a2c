package templates

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTemplateNotFound indicates no template exists for the (key, channel) pair.
var ErrTemplateNotFound = errors.New("templates: template not found")

// ErrTranslationMissing indicates the template exists but has no usable
// translation, not even the English fallback. This is a deployment
// configuration error, not a caller mistake.
var ErrTranslationMissing = errors.New("templates: translation missing")

// FallbackLanguage is used when the requested language has no translation.
const FallbackLanguage = "en"

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store loads message templates and their translations from Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// Lookup resolves the translation body for (key, channel, language), falling
// back to English when the requested language is not seeded.
func (s *Store) Lookup(ctx context.Context, key, channel, language string) (string, error) {
	query := `
		SELECT tt.language, tt.body
		FROM message_templates mt
		JOIN template_translations tt ON tt.template_id = mt.id
		WHERE mt.key = $1 AND mt.channel = $2 AND tt.language = ANY($3)
	`
	rows, err := s.pool.Query(ctx, query, key, channel, []string{language, FallbackLanguage})
	if err != nil {
		return "", fmt.Errorf("templates: lookup %s/%s: %w", key, channel, err)
	}
	defer rows.Close()

	bodies := map[string]string{}
	for rows.Next() {
		var lang, body string
		if err := rows.Scan(&lang, &body); err != nil {
			return "", fmt.Errorf("templates: scan translation: %w", err)
		}
		bodies[lang] = body
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("templates: lookup %s/%s: %w", key, channel, err)
	}

	if body, ok := bodies[language]; ok {
		return body, nil
	}
	if body, ok := bodies[FallbackLanguage]; ok {
		return body, nil
	}

	exists, err := s.templateExists(ctx, key, channel)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s/%s", ErrTemplateNotFound, key, channel)
	}
	return "", fmt.Errorf("%w: %s/%s has no %q translation", ErrTranslationMissing, key, channel, FallbackLanguage)
}

func (s *Store) templateExists(ctx context.Context, key, channel string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM message_templates WHERE key = $1 AND channel = $2`, key, channel).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("templates: check template: %w", err)
	}
	return true, nil
}

// Upsert creates or refreshes a template and one translation. Used by the
// seeder and by administrative content edits.
func (s *Store) Upsert(ctx context.Context, key, channel, description, language, body string) error {
	query := `
		INSERT INTO message_templates (key, channel, description)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (key, channel) DO UPDATE
		SET description = COALESCE(NULLIF(EXCLUDED.description, ''), message_templates.description),
			updated_at = now()
		RETURNING id
	`
	var templateID string
	if err := s.pool.QueryRow(ctx, query, key, channel, description).Scan(&templateID); err != nil {
		return fmt.Errorf("templates: upsert template %s/%s: %w", key, channel, err)
	}

	translation := `
		INSERT INTO template_translations (template_id, language, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (template_id, language) DO UPDATE
		SET body = EXCLUDED.body,
			updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, translation, templateID, language, body); err != nil {
		return fmt.Errorf("templates: upsert translation %s/%s/%s: %w", key, channel, language, err)
	}
	return nil
}
