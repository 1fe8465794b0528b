package incident

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
)

// AcquireLease takes the per-incident lease for owner. It succeeds when no
// lease exists, the existing one has expired, or owner already holds it, and
// returns ErrLeaseHeld otherwise.
func (s *Store) AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()

		var holder, expiresAt string
		err := tx.QueryRowContext(ctx,
			"SELECT owner, expires_at FROM incident_leases WHERE id = ?", id,
		).Scan(&holder, &expiresAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read lease: %w", err)
		default:
			if holder != owner && store.ParseTime(expiresAt).After(now) {
				return fmt.Errorf("%w: %s held by %s", ErrLeaseHeld, id, holder)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO incident_leases (id, owner, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		`, id, owner, store.FormatTime(now.Add(ttl)))
		if err != nil {
			return fmt.Errorf("write lease: %w", err)
		}
		return nil
	})
}

// ReleaseLease drops the lease if owner holds it.
func (s *Store) ReleaseLease(ctx context.Context, id, owner string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM incident_leases WHERE id = ? AND owner = ?", id, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// LeaseHolder returns the current unexpired lease owner for id, or "".
func (s *Store) LeaseHolder(ctx context.Context, id string) (string, error) {
	var holder, expiresAt string
	err := s.db.DB().QueryRowContext(ctx,
		"SELECT owner, expires_at FROM incident_leases WHERE id = ?", id,
	).Scan(&holder, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lease: %w", err)
	}
	if !store.ParseTime(expiresAt).After(s.now().UTC()) {
		return "", nil
	}
	return holder, nil
}
