package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"opsgate/internal/domain"
)

// LedgerRepo is the SQLite implementation of the append-only audit
// ledger. Immutability is enforced twice: this type exposes no update or
// delete, and the schema carries triggers that abort any mutation.
type LedgerRepo struct {
	db *sql.DB
}

func NewLedgerRepo(db *sql.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

func (r *LedgerRepo) Append(ctx context.Context, e *domain.LedgerEntry) (int64, error) {
	var id int64
	err := withRetry(ctx, func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO ledger_entries
				(command_id, actor, action, resource_type, resource_id, environment,
				 parameters, verdict, reason, policy_ids, justification, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.CommandID, e.Actor, e.Action, e.ResourceType, e.ResourceID, e.Environment,
			marshalJSON(e.Parameters, "{}"), e.Verdict, e.Reason,
			marshalJSON(e.PolicyIDs, "[]"), e.Justification, e.DurationMs, e.CreatedAt)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, mapDBError(err)
	}
	return id, nil
}

// List returns matching entries ordered by id, ascending unless the
// filter says otherwise, plus the total match count for pagination.
func (r *LedgerRepo) List(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, int64, error) {
	where, args := buildLedgerWhere(filter)

	var total int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := " ORDER BY id"
	if filter.Descending {
		order = " ORDER BY id DESC"
	}
	query := `SELECT id, command_id, actor, action, resource_type, resource_id, environment,
		parameters, verdict, reason, policy_ids, justification, duration_ms, created_at
		FROM ledger_entries` + where + order + " LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query,
		append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var params, policyIDs string
		if err := rows.Scan(&e.ID, &e.CommandID, &e.Actor, &e.Action, &e.ResourceType,
			&e.ResourceID, &e.Environment, &params, &e.Verdict, &e.Reason,
			&policyIDs, &e.Justification, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Parameters = unmarshalParams(params)
		e.PolicyIDs = unmarshalStrings(policyIDs)
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func buildLedgerWhere(filter domain.LedgerFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if filter.Actor != nil {
		add("actor = ?", *filter.Actor)
	}
	if filter.ResourceID != nil {
		add("resource_id = ?", *filter.ResourceID)
	}
	if filter.ResourceType != nil {
		add("resource_type = ?", *filter.ResourceType)
	}
	if filter.Verdict != nil {
		add("verdict = ?", *filter.Verdict)
	}
	if filter.CommandID != nil {
		add("command_id = ?", *filter.CommandID)
	}
	if filter.From != nil {
		add("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		add("created_at < ?", *filter.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return fmt.Sprintf(" WHERE %s", strings.Join(conds, " AND ")), args
}
