package store

import (
	"context"
	"fmt"
	"time"

	"github.com/AlexandrePrevot/OrderParserProcessor/internal/models"
)

// SaveAuditEntry appends a process lifecycle event.
func (s *Store) SaveAuditEntry(e models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(`
	INSERT INTO process_audit (user, title, action, result, pid, details, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.User, e.Title, e.Action, e.Result, e.PID, e.Details, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns the newest entries first, optionally for one
// sanitized user.
func (s *Store) ListAuditEntries(ctx context.Context, user string, limit int) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT user, title, action, result, pid, details, created_at FROM process_audit`
	var args []any
	if user != "" {
		query += ` WHERE user = ?`
		args = append(args, user)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var (
			e  models.AuditEntry
			ts int64
		)
		if err := rows.Scan(&e.User, &e.Title, &e.Action, &e.Result, &e.PID, &e.Details, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
