package executives

import (
	"context"
	"errors"

	"leadflow_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads executives from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a Postgres executive provider.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Executive, error) {
	var e Executive
	err := r.pool.QueryRow(ctx, `
		SELECT id, display_name, role, region, is_active, created_at
		FROM executives WHERE id = $1
	`, id).Scan(&e.ID, &e.DisplayName, &e.Role, &e.Region, &e.IsActive, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Executive{}, ErrNotFound
	}
	if err != nil {
		return Executive{}, db.Classify("get executive", err)
	}
	return e, nil
}

func (r *Repository) ListActive(ctx context.Context) ([]Executive, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, display_name, role, region, is_active, created_at
		FROM executives
		WHERE is_active
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, db.Classify("list executives", err)
	}
	defer rows.Close()

	items := make([]Executive, 0)
	for rows.Next() {
		var e Executive
		if err := rows.Scan(&e.ID, &e.DisplayName, &e.Role, &e.Region, &e.IsActive, &e.CreatedAt); err != nil {
			return nil, db.Classify("list executives", err)
		}
		items = append(items, e)
	}
	if rows.Err() != nil {
		return nil, db.Classify("list executives", rows.Err())
	}
	return items, nil
}
