package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"opsgate/internal/domain"
)

// ApprovalRepo persists quorum state for commands gated on approvals.
type ApprovalRepo struct {
	db *sql.DB
}

func NewApprovalRepo(db *sql.DB) *ApprovalRepo {
	return &ApprovalRepo{db: db}
}

func (r *ApprovalRepo) Create(ctx context.Context, a *domain.ApprovalState) error {
	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO approval_state
				(command_id, required_count, allow_self, status, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.CommandID, a.RequiredCount, boolToInt(a.AllowSelf), a.Status,
			a.CreatedAt, a.ExpiresAt)
		return err
	})
	return mapDBError(err)
}

func (r *ApprovalRepo) Get(ctx context.Context, commandID string) (*domain.ApprovalState, error) {
	var a domain.ApprovalState
	var allowSelf int64
	err := r.db.QueryRowContext(ctx, `
		SELECT command_id, required_count, allow_self, status, created_at, expires_at
		FROM approval_state WHERE command_id = ?`, commandID).
		Scan(&a.CommandID, &a.RequiredCount, &allowSelf, &a.Status, &a.CreatedAt, &a.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.AllowSelf = allowSelf != 0

	rows, err := r.db.QueryContext(ctx, `
		SELECT approver FROM approval_approvers
		WHERE command_id = ? ORDER BY approved_at, approver`, commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var approver string
		if err := rows.Scan(&approver); err != nil {
			return nil, err
		}
		a.Approvers = append(a.Approvers, approver)
	}
	return &a, rows.Err()
}

// AddApprover records an approval via insert-if-absent and returns the
// distinct-approver count afterwards. Re-approval by the same actor does
// not change the count.
func (r *ApprovalRepo) AddApprover(ctx context.Context, commandID, approver string, at time.Time) (int, error) {
	var count int
	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO approval_approvers (command_id, approver, approved_at)
			VALUES (?, ?, ?)`, commandID, approver, at)
		if err != nil {
			return err
		}
		return r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM approval_approvers WHERE command_id = ?`,
			commandID).Scan(&count)
	})
	if err != nil {
		return 0, mapDBError(err)
	}
	return count, nil
}

// TransitionStatus is a compare-and-swap on the approval status. Zero
// affected rows means the approval was not in the from status, either
// because a concurrent caller transitioned it first or because no such
// approval exists.
func (r *ApprovalRepo) TransitionStatus(ctx context.Context, commandID, from, to string) (bool, error) {
	var won bool
	err := withRetry(ctx, func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx,
			`UPDATE approval_state SET status = ? WHERE command_id = ? AND status = ?`,
			to, commandID, from)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		won = n > 0
		return nil
	})
	if err != nil {
		return false, mapDBError(err)
	}
	return won, nil
}

// ListExpired returns pending approvals whose window lapsed at or before
// now. Used by the expiry sweep.
func (r *ApprovalRepo) ListExpired(ctx context.Context, now time.Time) ([]domain.ApprovalState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT command_id, required_count, allow_self, status, created_at, expires_at
		FROM approval_state
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at`, domain.ApprovalPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ApprovalState
	for rows.Next() {
		var a domain.ApprovalState
		var allowSelf int64
		if err := rows.Scan(&a.CommandID, &a.RequiredCount, &allowSelf, &a.Status,
			&a.CreatedAt, &a.ExpiresAt); err != nil {
			return nil, err
		}
		a.AllowSelf = allowSelf != 0
		out = append(out, a)
	}
	return out, rows.Err()
}
