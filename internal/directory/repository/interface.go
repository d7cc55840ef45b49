package repository

import (
	"context"
	"errors"
	"time"

	"leadflow_backend/internal/taxonomy"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no row exists for an executive and category.
var ErrNotFound = errors.New("service assignment not found")

// Assignment links one executive to one canonical category. Seq is the
// first-insertion order and stays fixed across deactivation and
// reactivation; it is the rotation order for the category.
type Assignment struct {
	ID            uuid.UUID
	Seq           int64
	ExecutiveID   uuid.UUID
	ServiceName   taxonomy.Category
	IsActive      bool
	AssignedAt    time.Time
	AssignedBy    string
	DeactivatedAt *time.Time
	DeactivatedBy *string
}

// ListParams filters directory listings.
type ListParams struct {
	Category        *taxonomy.Category
	ExecutiveID     *uuid.UUID
	IncludeInactive bool
}

// Reader provides read access to the directory.
type Reader interface {
	// ListActiveByCategory returns active rows for category in rotation order.
	ListActiveByCategory(ctx context.Context, category taxonomy.Category) ([]Assignment, error)
	List(ctx context.Context, params ListParams) ([]Assignment, error)
}

// Writer changes directory rows. Neither method touches visitors.
type Writer interface {
	// Upsert activates the (executive, category) pair. An already active row
	// is returned unchanged; an inactive row is reactivated with fresh
	// assignedAt/assignedBy.
	Upsert(ctx context.Context, executiveID uuid.UUID, category taxonomy.Category, by string, now time.Time) (Assignment, error)
	// Deactivate soft-deactivates the pair. Deactivating an inactive row is a
	// no-op that returns the row.
	Deactivate(ctx context.Context, executiveID uuid.UUID, category taxonomy.Category, by string, now time.Time) (Assignment, error)
}

// Repository is the complete directory persistence contract.
type Repository interface {
	Reader
	Writer
}

var (
	_ Repository = (*Repo)(nil)
	_ Repository = (*Memory)(nil)
)
