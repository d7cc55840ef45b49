package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadflow_backend/internal/taxonomy"
	"leadflow_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const assignmentColumns = `id, seq, executive_id, service_name, is_active, assigned_at, assigned_by, deactivated_at, deactivated_by`

// Repo is the Postgres directory store.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a Postgres directory repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	var service string
	err := row.Scan(&a.ID, &a.Seq, &a.ExecutiveID, &service, &a.IsActive, &a.AssignedAt, &a.AssignedBy, &a.DeactivatedAt, &a.DeactivatedBy)
	a.ServiceName = taxonomy.Category(service)
	return a, err
}

func (r *Repo) Upsert(ctx context.Context, executiveID uuid.UUID, category taxonomy.Category, by string, now time.Time) (Assignment, error) {
	a, err := scanAssignment(r.pool.QueryRow(ctx, `
		INSERT INTO executive_service_assignments (id, executive_id, service_name, is_active, assigned_at, assigned_by)
		VALUES ($1, $2, $3, TRUE, $4, $5)
		ON CONFLICT (executive_id, service_name) DO UPDATE SET
			assigned_at = CASE WHEN executive_service_assignments.is_active
				THEN executive_service_assignments.assigned_at ELSE EXCLUDED.assigned_at END,
			assigned_by = CASE WHEN executive_service_assignments.is_active
				THEN executive_service_assignments.assigned_by ELSE EXCLUDED.assigned_by END,
			is_active = TRUE,
			deactivated_at = NULL,
			deactivated_by = NULL
		RETURNING `+assignmentColumns,
		uuid.New(), executiveID, string(category), now, by,
	))
	if err != nil {
		return Assignment{}, db.Classify("upsert service assignment", err)
	}
	return a, nil
}

func (r *Repo) Deactivate(ctx context.Context, executiveID uuid.UUID, category taxonomy.Category, by string, now time.Time) (Assignment, error) {
	a, err := scanAssignment(r.pool.QueryRow(ctx, `
		UPDATE executive_service_assignments SET
			deactivated_at = CASE WHEN is_active THEN $3 ELSE deactivated_at END,
			deactivated_by = CASE WHEN is_active THEN $4 ELSE deactivated_by END,
			is_active = FALSE
		WHERE executive_id = $1 AND service_name = $2
		RETURNING `+assignmentColumns,
		executiveID, string(category), now, by,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	if err != nil {
		return Assignment{}, db.Classify("deactivate service assignment", err)
	}
	return a, nil
}

func (r *Repo) ListActiveByCategory(ctx context.Context, category taxonomy.Category) ([]Assignment, error) {
	return r.List(ctx, ListParams{Category: &category})
}

func (r *Repo) List(ctx context.Context, params ListParams) ([]Assignment, error) {
	whereClauses := []string{"TRUE"}
	args := []interface{}{}
	argIdx := 1
	if params.Category != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("service_name = $%d", argIdx))
		args = append(args, string(*params.Category))
		argIdx++
	}
	if params.ExecutiveID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("executive_id = $%d", argIdx))
		args = append(args, *params.ExecutiveID)
	}
	if !params.IncludeInactive {
		whereClauses = append(whereClauses, "is_active")
	}

	rows, err := r.pool.Query(ctx,
		"SELECT "+assignmentColumns+" FROM executive_service_assignments WHERE "+
			strings.Join(whereClauses, " AND ")+" ORDER BY seq ASC",
		args...,
	)
	if err != nil {
		return nil, db.Classify("list service assignments", err)
	}
	defer rows.Close()

	items := make([]Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, db.Classify("list service assignments", err)
		}
		items = append(items, a)
	}
	if rows.Err() != nil {
		return nil, db.Classify("list service assignments", rows.Err())
	}
	return items, nil
}
