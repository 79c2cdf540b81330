package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/domain/prompt"
)

// Store implements prompt persistence on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetSelectedPromptContent returns the content of the prompt the user has
// selected, or "" when the user has no selection.
func (s *Store) GetSelectedPromptContent(ctx context.Context, userID string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx,
		`SELECT p.content
		 FROM prompt_selections sel
		 JOIN prompts p ON p.id = sel.prompt_id
		 WHERE sel.user_id = $1`, userID).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get selected prompt: %w", err)
	}
	return content, nil
}

// ListPrompts returns all prompts ordered by name.
func (s *Store) ListPrompts(ctx context.Context) ([]prompt.Prompt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, content, created_at, updated_at
		 FROM prompts ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []prompt.Prompt
	for rows.Next() {
		var p prompt.Prompt
		if err := rows.Scan(&p.ID, &p.Name, &p.Content, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// CreatePrompt inserts a new prompt and returns it.
func (s *Store) CreatePrompt(ctx context.Context, req prompt.CreateRequest) (*prompt.Prompt, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO prompts (name, content)
		 VALUES ($1, $2)
		 RETURNING id, name, content, created_at, updated_at`,
		req.Name, req.Content)

	var p prompt.Prompt
	if err := row.Scan(&p.ID, &p.Name, &p.Content, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create prompt: %w", err)
	}
	return &p, nil
}

// UpdatePrompt updates a prompt's name and content.
func (s *Store) UpdatePrompt(ctx context.Context, id string, req prompt.CreateRequest) (*prompt.Prompt, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE prompts SET name = $2, content = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING id, name, content, created_at, updated_at`,
		id, req.Name, req.Content)

	var p prompt.Prompt
	err := row.Scan(&p.ID, &p.Name, &p.Content, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update prompt %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update prompt %s: %w", id, err)
	}
	return &p, nil
}

// DeletePrompt removes a prompt. Selections referencing it cascade away.
func (s *Store) DeletePrompt(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM prompts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete prompt %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete prompt %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SelectPrompt records the user's prompt selection, replacing any previous one.
func (s *Store) SelectPrompt(ctx context.Context, userID, promptID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompt_selections (user_id, prompt_id)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET
		   prompt_id = EXCLUDED.prompt_id,
		   updated_at = now()`,
		userID, promptID)
	if err != nil {
		return fmt.Errorf("select prompt: %w", err)
	}
	return nil
}

// ClearSelection removes the user's prompt selection, reverting them to the
// configured default prompt.
func (s *Store) ClearSelection(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM prompt_selections WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear prompt selection: %w", err)
	}
	return nil
}
