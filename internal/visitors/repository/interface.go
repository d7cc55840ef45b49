package repository

import (
	"context"
	"errors"

	"leadflow_backend/internal/visitors/domain"
	"leadflow_backend/platform/db"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no visitor has the requested id.
	ErrNotFound = errors.New("visitor not found")
	// ErrStaleWrite is returned by Save when the stored version differs from
	// the version the caller read.
	ErrStaleWrite = errors.New("visitor was modified concurrently")
	// ErrDuplicateContact is returned when the email or phone already belongs
	// to another visitor.
	ErrDuplicateContact = errors.New("visitor with this email or phone already exists")
	// ErrUnavailable marks a store that could not be reached. Batch callers
	// abort and retry later.
	ErrUnavailable = db.ErrUnavailable
)

// ListParams filters visitor listings. Zero values disable a filter.
type ListParams struct {
	Statuses         []domain.Stage
	Region           string
	AssignedAgentID  *uuid.UUID
	SalesExecutiveID *uuid.UUID
	OnlyUnassigned   bool
	Search           string
	Offset           int
	Limit            int
}

// =====================================
// Segregated Interfaces
// =====================================

// Reader provides read-only access to visitors.
type Reader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Visitor, error)
	List(ctx context.Context, params ListParams) ([]*domain.Visitor, int, error)
}

// Writer persists visitors. Save is the optimistic-concurrency guard: it
// writes v only when the stored version equals expectedVersion.
type Writer interface {
	Create(ctx context.Context, v *domain.Visitor) error
	Save(ctx context.Context, v *domain.Visitor, expectedVersion int) error
}

// AssignmentQueue serves the reconciliation pass.
type AssignmentQueue interface {
	// ListNeedingAssignment returns visitors missing a service executive, or
	// declaring a region without a sales executive, in creation order. Only
	// visitors with Seq greater than afterSeq are returned, so callers page
	// through the queue with the last Seq they saw.
	ListNeedingAssignment(ctx context.Context, afterSeq int64, limit int) ([]*domain.Visitor, error)
	// RegionOrdinal counts visitors in the same region created before v.
	RegionOrdinal(ctx context.Context, v *domain.Visitor) (int, error)
}

// Store is the complete visitor persistence contract.
type Store interface {
	Reader
	Writer
	AssignmentQueue
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)
