package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadflow_backend/internal/visitors/domain"
	"leadflow_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const visitorColumns = `id, seq, name, email, phone, service, subservice, region, source, status,
	pipeline_history, assigned_agent_id, assigned_agent_name, sales_executive_id, sales_executive_name,
	assignment_history, version, last_modified_by, last_modified_at, created_at`

// Repository is the Postgres visitor store.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed visitor store.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanVisitor(row pgx.Row) (*domain.Visitor, error) {
	var v domain.Visitor
	var status string
	err := row.Scan(
		&v.ID, &v.Seq, &v.Name, &v.Email, &v.Phone, &v.Service, &v.Subservice, &v.Region, &v.Source, &status,
		&v.PipelineHistory, &v.AssignedAgentID, &v.AssignedAgentName, &v.SalesExecutiveID, &v.SalesExecutiveName,
		&v.AssignmentHistory, &v.Version, &v.LastModifiedBy, &v.LastModifiedAt, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Status = domain.Stage(status)
	return &v, nil
}

func (r *Repository) Create(ctx context.Context, v *domain.Visitor) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO visitors (
			id, name, email, phone, service, subservice, region, source, status,
			pipeline_history, assigned_agent_id, assigned_agent_name, sales_executive_id, sales_executive_name,
			assignment_history, version, last_modified_by, last_modified_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING seq
	`,
		v.ID, v.Name, v.Email, v.Phone, v.Service, v.Subservice, v.Region, v.Source, string(v.Status),
		historyOrEmpty(v.PipelineHistory), v.AssignedAgentID, v.AssignedAgentName, v.SalesExecutiveID, v.SalesExecutiveName,
		eventsOrEmpty(v.AssignmentHistory), v.Version, v.LastModifiedBy, v.LastModifiedAt, v.CreatedAt,
	).Scan(&v.Seq)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateContact
		}
		return db.Classify("create visitor", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Visitor, error) {
	v, err := scanVisitor(r.pool.QueryRow(ctx, `SELECT `+visitorColumns+` FROM visitors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, db.Classify("get visitor", err)
	}
	return v, nil
}

// Save writes every mutable column of v when the stored version still equals
// expectedVersion. A zero-row update is resolved into ErrNotFound or
// ErrStaleWrite.
func (r *Repository) Save(ctx context.Context, v *domain.Visitor, expectedVersion int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE visitors SET
			name = $3, email = $4, phone = $5, service = $6, subservice = $7, region = $8, source = $9,
			status = $10, pipeline_history = $11,
			assigned_agent_id = $12, assigned_agent_name = $13,
			sales_executive_id = $14, sales_executive_name = $15,
			assignment_history = $16, version = $17, last_modified_by = $18, last_modified_at = $19
		WHERE id = $1 AND version = $2
	`,
		v.ID, expectedVersion,
		v.Name, v.Email, v.Phone, v.Service, v.Subservice, v.Region, v.Source,
		string(v.Status), historyOrEmpty(v.PipelineHistory),
		v.AssignedAgentID, v.AssignedAgentName,
		v.SalesExecutiveID, v.SalesExecutiveName,
		eventsOrEmpty(v.AssignmentHistory), v.Version, v.LastModifiedBy, v.LastModifiedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateContact
		}
		return db.Classify("save visitor", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM visitors WHERE id = $1)`, v.ID).Scan(&exists); err != nil {
		return db.Classify("save visitor", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleWrite
}

func (r *Repository) List(ctx context.Context, params ListParams) ([]*domain.Visitor, int, error) {
	whereClause, args, argIdx := buildListWhere(params)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM visitors WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify("count visitors", err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, params.Offset)
	query := fmt.Sprintf(`SELECT %s FROM visitors WHERE %s ORDER BY seq DESC LIMIT $%d OFFSET $%d`,
		visitorColumns, whereClause, argIdx, argIdx+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify("list visitors", err)
	}
	defer rows.Close()

	visitors := make([]*domain.Visitor, 0)
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, 0, db.Classify("list visitors", err)
		}
		visitors = append(visitors, v)
	}
	if rows.Err() != nil {
		return nil, 0, db.Classify("list visitors", rows.Err())
	}
	return visitors, total, nil
}

func buildListWhere(params ListParams) (string, []interface{}, int) {
	whereClauses := []string{"TRUE"}
	args := []interface{}{}
	argIdx := 1

	addEquals := func(column string, value interface{}) {
		whereClauses = append(whereClauses, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if len(params.Statuses) > 0 {
		statuses := make([]string, len(params.Statuses))
		for i, s := range params.Statuses {
			statuses[i] = string(s)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("status = ANY($%d)", argIdx))
		args = append(args, statuses)
		argIdx++
	}
	if region := strings.TrimSpace(params.Region); region != "" {
		addEquals("lower(btrim(region))", strings.ToLower(region))
	}
	if params.AssignedAgentID != nil {
		addEquals("assigned_agent_id", *params.AssignedAgentID)
	}
	if params.SalesExecutiveID != nil {
		addEquals("sales_executive_id", *params.SalesExecutiveID)
	}
	if params.OnlyUnassigned {
		whereClauses = append(whereClauses, "(assigned_agent_id IS NULL OR btrim(assigned_agent_name) = '')")
	}
	if search := strings.TrimSpace(params.Search); search != "" {
		whereClauses = append(whereClauses, fmt.Sprintf(
			"(name ILIKE $%d OR email ILIKE $%d OR phone ILIKE $%d OR service ILIKE $%d OR subservice ILIKE $%d)",
			argIdx, argIdx, argIdx, argIdx, argIdx,
		))
		args = append(args, "%"+search+"%")
		argIdx++
	}

	return strings.Join(whereClauses, " AND "), args, argIdx
}

func (r *Repository) ListNeedingAssignment(ctx context.Context, afterSeq int64, limit int) ([]*domain.Visitor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+visitorColumns+`
		FROM visitors
		WHERE seq > $1
			AND (assigned_agent_id IS NULL
				OR btrim(assigned_agent_name) = ''
				OR (btrim(region) <> '' AND sales_executive_id IS NULL))
		ORDER BY seq ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, db.Classify("list visitors needing assignment", err)
	}
	defer rows.Close()

	visitors := make([]*domain.Visitor, 0)
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, db.Classify("list visitors needing assignment", err)
		}
		visitors = append(visitors, v)
	}
	if rows.Err() != nil {
		return nil, db.Classify("list visitors needing assignment", rows.Err())
	}
	return visitors, nil
}

func (r *Repository) RegionOrdinal(ctx context.Context, v *domain.Visitor) (int, error) {
	var ordinal int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM visitors
		WHERE lower(btrim(region)) = lower(btrim($1)) AND seq < $2
	`, v.Region, v.Seq).Scan(&ordinal)
	if err != nil {
		return 0, db.Classify("region ordinal", err)
	}
	return ordinal, nil
}

func historyOrEmpty(h []domain.PipelineEntry) []domain.PipelineEntry {
	if h == nil {
		return []domain.PipelineEntry{}
	}
	return h
}

func eventsOrEmpty(e []domain.AssignmentEvent) []domain.AssignmentEvent {
	if e == nil {
		return []domain.AssignmentEvent{}
	}
	return e
}
