package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	perrors "github.com/AlexandrePrevot/OrderParserProcessor/internal/errors"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/models"
)

// ErrScriptNotFound is returned when no script matches an identity.
var ErrScriptNotFound = perrors.New(perrors.KindNotFound, "script not found")

// SaveScript inserts or replaces the script keyed by its sanitized identity.
// CreatedAt is kept from the existing row on update.
func (s *Store) SaveScript(ctx context.Context, sc *models.Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	id := sc.Identity()

	query := `
	INSERT INTO scripts (user_key, title_key, user, title, summary, content, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_key, title_key) DO UPDATE SET
		user = excluded.user,
		title = excluded.title,
		summary = excluded.summary,
		content = excluded.content,
		updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		id.User, id.Title, sc.User, sc.Title, sc.Summary, sc.Content,
		sc.CreatedAt.UnixMilli(), sc.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save script: %w", err)
	}
	return nil
}

// GetScript retrieves a script by identity.
func (s *Store) GetScript(ctx context.Context, id models.ScriptIdentity) (*models.Script, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id = id.Sanitized()
	row := s.db.QueryRowContext(ctx, `
	SELECT user, title, summary, content, created_at, updated_at
	FROM scripts WHERE user_key = ? AND title_key = ?
	`, id.User, id.Title)

	sc, err := scanScript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.E(perrors.KindNotFound, "get script "+id.Key(), ErrScriptNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get script: %w", err)
	}
	return sc, nil
}

// ListScripts returns scripts ordered by user then title. An empty user
// lists every user's scripts. A limit <= 0 means no limit.
func (s *Store) ListScripts(ctx context.Context, user string, limit int) ([]*models.Script, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT user, title, summary, content, created_at, updated_at
	FROM scripts`
	var args []any
	if user != "" {
		query += ` WHERE user_key = ?`
		args = append(args, models.Sanitize(user))
	}
	query += ` ORDER BY user_key, title_key`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	defer rows.Close()

	var out []*models.Script
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan script: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// DeleteScript removes a script. Deleting a missing script is not an error.
func (s *Store) DeleteScript(ctx context.Context, id models.ScriptIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = id.Sanitized()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scripts WHERE user_key = ? AND title_key = ?`, id.User, id.Title); err != nil {
		return fmt.Errorf("failed to delete script: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanScript(row scanner) (*models.Script, error) {
	var (
		sc               models.Script
		created, updated int64
	)
	if err := row.Scan(&sc.User, &sc.Title, &sc.Summary, &sc.Content, &created, &updated); err != nil {
		return nil, err
	}
	sc.CreatedAt = time.UnixMilli(created).UTC()
	sc.UpdatedAt = time.UnixMilli(updated).UTC()
	return &sc, nil
}
