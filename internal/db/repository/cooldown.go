package repository

import (
	"context"
	"database/sql"
	"errors"

	"opsgate/internal/domain"
)

// CooldownRepo persists the last-applied timestamp per (resource, action).
type CooldownRepo struct {
	db *sql.DB
}

func NewCooldownRepo(db *sql.DB) *CooldownRepo {
	return &CooldownRepo{db: db}
}

// Get returns the recorded state, or (nil, nil) when nothing has been
// applied yet. Absence is a normal answer here, not an error.
func (r *CooldownRepo) Get(ctx context.Context, resourceID, action string) (*domain.CooldownState, error) {
	var s domain.CooldownState
	err := r.db.QueryRowContext(ctx, `
		SELECT resource_id, action, last_applied_at, last_magnitude
		FROM cooldown_state WHERE resource_id = ? AND action = ?`,
		resourceID, action).
		Scan(&s.ResourceID, &s.Action, &s.LastAppliedAt, &s.LastMagnitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *CooldownRepo) RecordApplied(ctx context.Context, s *domain.CooldownState) error {
	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO cooldown_state (resource_id, action, last_applied_at, last_magnitude)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(resource_id, action) DO UPDATE SET
				last_applied_at = excluded.last_applied_at,
				last_magnitude = excluded.last_magnitude`,
			s.ResourceID, s.Action, s.LastAppliedAt, s.LastMagnitude)
		return err
	})
	return mapDBError(err)
}
