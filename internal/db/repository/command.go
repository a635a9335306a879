package repository

import (
	"context"
	"database/sql"

	"opsgate/internal/domain"
)

// CommandRepo stores submitted commands and tracks their lifecycle state.
type CommandRepo struct {
	db *sql.DB
}

func NewCommandRepo(db *sql.DB) *CommandRepo {
	return &CommandRepo{db: db}
}

func (r *CommandRepo) Insert(ctx context.Context, c *domain.Command) error {
	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO commands
				(id, actor, action, resource_type, resource_id, environment,
				 parameters, state, requested_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Actor, c.Action, c.ResourceType, c.ResourceID, c.Environment,
			marshalJSON(c.Parameters, "{}"), c.State, c.RequestedAt, c.CreatedAt)
		return err
	})
	return mapDBError(err)
}

func (r *CommandRepo) GetByID(ctx context.Context, id string) (*domain.Command, error) {
	var c domain.Command
	var params string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, actor, action, resource_type, resource_id, environment,
			parameters, state, requested_at, created_at
		FROM commands WHERE id = ?`, id).
		Scan(&c.ID, &c.Actor, &c.Action, &c.ResourceType, &c.ResourceID, &c.Environment,
			&params, &c.State, &c.RequestedAt, &c.CreatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	c.Parameters = unmarshalParams(params)
	return &c, nil
}

func (r *CommandRepo) UpdateState(ctx context.Context, id string, state string) error {
	err := withRetry(ctx, func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx,
			`UPDATE commands SET state = ? WHERE id = ?`, state, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound("command %s not found", id)
		}
		return nil
	})
	return mapDBError(err)
}
