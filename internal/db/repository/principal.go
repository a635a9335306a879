package repository

import (
	"context"
	"database/sql"

	"opsgate/internal/domain"
)

// PrincipalRepo is the identity directory backing authentication and
// role resolution.
type PrincipalRepo struct {
	db *sql.DB
}

func NewPrincipalRepo(db *sql.DB) *PrincipalRepo {
	return &PrincipalRepo{db: db}
}

func (r *PrincipalRepo) Create(ctx context.Context, p *domain.Principal) (*domain.Principal, error) {
	var created domain.Principal
	err := withRetry(ctx, func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx, `
			INSERT INTO principals (name, role) VALUES (?, ?)
			RETURNING id, name, role, created_at`,
			p.Name, p.Role).
			Scan(&created.ID, &created.Name, &created.Role, &created.CreatedAt)
	})
	if err != nil {
		return nil, mapDBError(err)
	}
	return &created, nil
}

func (r *PrincipalRepo) GetByName(ctx context.Context, name string) (*domain.Principal, error) {
	var p domain.Principal
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, role, created_at FROM principals WHERE name = ?`, name).
		Scan(&p.ID, &p.Name, &p.Role, &p.CreatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	return &p, nil
}

func (r *PrincipalRepo) List(ctx context.Context) ([]domain.Principal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, role, created_at FROM principals ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var principals []domain.Principal
	for rows.Next() {
		var p domain.Principal
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.CreatedAt); err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	return principals, rows.Err()
}

func (r *PrincipalRepo) Delete(ctx context.Context, id int64) error {
	err := withRetry(ctx, func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, `DELETE FROM principals WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound("principal %d not found", id)
		}
		return nil
	})
	return mapDBError(err)
}
