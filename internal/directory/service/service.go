package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"leadflow_backend/internal/directory/repository"
	"leadflow_backend/internal/directory/transport"
	"leadflow_backend/internal/executives"
	"leadflow_backend/internal/taxonomy"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	msgExecutiveNotFound    = "executive not found"
	msgExecutiveInactive    = "executive is inactive"
	msgAssignmentNotFound   = "service assignment not found"
	msgDirectoryUnavailable = "assignment directory unavailable"
	msgInvalidExecutiveID   = "invalid executive id"
)

// Service maintains which executives receive which service categories.
type Service struct {
	repo       repository.Repository
	executives executives.Provider
	log        *logger.Logger
	now        func() time.Time
}

// New creates the directory service.
func New(repo repository.Repository, execs executives.Provider, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		repo:       repo,
		executives: execs,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Assign lets executiveID receive visitors of the category that rawService
// resolves to. Repeating an active assignment changes nothing.
func (s *Service) Assign(ctx context.Context, executiveID uuid.UUID, rawService, assignedBy string) (transport.AssignmentResponse, error) {
	exec, err := s.executives.Get(ctx, executiveID)
	if err != nil {
		return transport.AssignmentResponse{}, s.mapError("directory.Assign", err)
	}
	if !exec.IsActive {
		return transport.AssignmentResponse{}, apperr.Validation(msgExecutiveInactive)
	}

	category := taxonomy.Resolve(rawService)
	row, err := s.repo.Upsert(ctx, executiveID, category, assignedBy, s.now())
	if err != nil {
		return transport.AssignmentResponse{}, s.mapError("directory.Assign", err)
	}

	s.log.Info("executive assigned to service",
		"executiveId", executiveID,
		"category", category,
		"requested", strings.TrimSpace(rawService),
		"assignedBy", assignedBy,
	)
	return toResponse(row, exec.DisplayName), nil
}

// Deactivate stops routing the category to executiveID. Visitors already
// assigned to the executive keep their assignment.
func (s *Service) Deactivate(ctx context.Context, executiveID uuid.UUID, rawService, by string) (transport.AssignmentResponse, error) {
	category := taxonomy.Resolve(rawService)
	row, err := s.repo.Deactivate(ctx, executiveID, category, by, s.now())
	if err != nil {
		return transport.AssignmentResponse{}, s.mapError("directory.Deactivate", err)
	}
	s.log.Info("executive removed from service", "executiveId", executiveID, "category", category, "by", by)
	return toResponse(row, s.displayName(ctx, executiveID)), nil
}

// GetExecutivesFor returns the active executives of category in rotation
// order.
func (s *Service) GetExecutivesFor(ctx context.Context, category taxonomy.Category) ([]uuid.UUID, error) {
	rows, err := s.repo.ListActiveByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		ids[i] = row.ExecutiveID
	}
	return ids, nil
}

// ListActive returns the active rows of category.
func (s *Service) ListActive(ctx context.Context, category taxonomy.Category) ([]repository.Assignment, error) {
	return s.repo.ListActiveByCategory(ctx, category)
}

// ListForExecutive returns every category row of one executive, active or not.
func (s *Service) ListForExecutive(ctx context.Context, executiveID uuid.UUID) ([]repository.Assignment, error) {
	return s.repo.List(ctx, repository.ListParams{ExecutiveID: &executiveID, IncludeInactive: true})
}

// List serves the admin listing.
func (s *Service) List(ctx context.Context, req transport.ListAssignmentsRequest) (transport.AssignmentListResponse, error) {
	params := repository.ListParams{IncludeInactive: req.IncludeInactive}
	if strings.TrimSpace(req.ServiceName) != "" {
		category := taxonomy.Resolve(req.ServiceName)
		params.Category = &category
	}
	if req.ExecutiveID != "" {
		id, err := uuid.Parse(req.ExecutiveID)
		if err != nil {
			return transport.AssignmentListResponse{}, apperr.BadRequest(msgInvalidExecutiveID)
		}
		params.ExecutiveID = &id
	}

	rows, err := s.repo.List(ctx, params)
	if err != nil {
		return transport.AssignmentListResponse{}, s.mapError("directory.List", err)
	}

	names := make(map[uuid.UUID]string)
	items := make([]transport.AssignmentResponse, len(rows))
	for i, row := range rows {
		name, ok := names[row.ExecutiveID]
		if !ok {
			name = s.displayName(ctx, row.ExecutiveID)
			names[row.ExecutiveID] = name
		}
		items[i] = toResponse(row, name)
	}
	return transport.AssignmentListResponse{Items: items}, nil
}

// Categories lists the canonical categories an executive can be assigned to.
func (s *Service) Categories() transport.CategoriesResponse {
	cats := taxonomy.Categories()
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return transport.CategoriesResponse{Categories: out}
}

func (s *Service) displayName(ctx context.Context, id uuid.UUID) string {
	exec, err := s.executives.Get(ctx, id)
	if err != nil {
		return ""
	}
	return exec.DisplayName
}

func toResponse(row repository.Assignment, executiveName string) transport.AssignmentResponse {
	resp := transport.AssignmentResponse{
		ID:            row.ID,
		ExecutiveID:   row.ExecutiveID,
		ExecutiveName: executiveName,
		ServiceName:   string(row.ServiceName),
		IsActive:      row.IsActive,
		AssignedAt:    row.AssignedAt.Format(time.RFC3339),
		AssignedBy:    row.AssignedBy,
		DeactivatedBy: row.DeactivatedBy,
	}
	if row.DeactivatedAt != nil {
		at := row.DeactivatedAt.Format(time.RFC3339)
		resp.DeactivatedAt = &at
	}
	return resp
}

func (s *Service) mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, executives.ErrNotFound):
		return apperr.NotFound(msgExecutiveNotFound)
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msgAssignmentNotFound)
	case errors.Is(err, db.ErrUnavailable):
		s.log.DatabaseError(op, err)
		return apperr.Wrap(apperr.KindUnavailable, msgDirectoryUnavailable, err).WithOp(op)
	default:
		return err
	}
}
