package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type StateRepository struct {
	s *Storage
}

func NewStateRepository(s *Storage) *StateRepository {
	return &StateRepository{s: s}
}

func (r *StateRepository) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read sync state %s: %w", key, err)
	}
	return value, true, nil
}

func (r *StateRepository) SetState(ctx context.Context, key, value string) error {
	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to write sync state %s: %w", key, err)
	}
	return nil
}
