package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetKV retrieves a value from the key-value table. Missing keys return "".
func (s *Store) GetKV(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM daemon_kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}

// SetKV sets a value in the key-value table.
func (s *Store) SetKV(ctx context.Context, key, value string) error {
	_, err := s.Exec(ctx, `
		INSERT OR REPLACE INTO daemon_kv (key, value)
		VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}
