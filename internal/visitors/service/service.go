package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/visitors/domain"
	"leadflow_backend/internal/visitors/repository"
	"leadflow_backend/internal/visitors/transport"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
	"leadflow_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgVisitorNotFound  = "visitor not found"
	msgDuplicateContact = "a visitor with this email or phone already exists"
	msgStaleVersion     = "visitor was modified by someone else; reload and retry"
	msgStoreUnavailable = "visitor store unavailable"
	msgInvalidAssignee  = "invalid executive id filter"
)

// ApplyStatusInput describes one operator stage change. ExpectedVersion is
// optional; when set, a concurrent modification is reported to the caller
// instead of being retried.
type ApplyStatusInput struct {
	VisitorID       uuid.UUID
	Status          string
	ChangedBy       string
	Notes           *string
	ExpectedVersion *int
}

// Service owns visitor intake and pipeline transitions.
type Service struct {
	store  repository.Store
	bus    events.Bus
	policy domain.UnqualifiedPolicy
	log    *logger.Logger
	now    func() time.Time
}

// New creates the visitor service.
func New(store repository.Store, bus events.Bus, policy domain.UnqualifiedPolicy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		store:  store,
		bus:    bus,
		policy: policy,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new enquiry at the first pipeline stage.
func (s *Service) Create(ctx context.Context, req transport.CreateEnquiryRequest, createdBy string) (transport.VisitorResponse, error) {
	params := domain.NewVisitorParams{
		Name:       sanitize.Text(req.Name),
		Service:    sanitize.Text(req.Service),
		Subservice: sanitize.Text(req.Subservice),
		Region:     sanitize.Text(req.Region),
		Source:     sanitize.Text(req.Source),
	}
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		params.Email = &email
	}
	if normalized := phone.NormalizeE164(req.Phone); normalized != "" {
		params.Phone = &normalized
	}
	if params.Email == nil && params.Phone == nil {
		s.log.Warn("enquiry without contact channel", "name", params.Name)
	}

	v := domain.NewVisitor(params, createdBy, s.now())
	if err := s.store.Create(ctx, v); err != nil {
		return transport.VisitorResponse{}, s.mapError("visitors.Create", err)
	}

	s.log.Info("visitor created", "visitorId", v.ID, "category", v.Category(), "source", v.Source)
	if s.bus != nil {
		s.bus.Publish(ctx, events.VisitorCreated{
			BaseEvent: events.NewBaseEvent(),
			VisitorID: v.ID,
			Name:      v.Name,
			Service:   v.Service,
			Category:  string(v.Category()),
			Region:    v.Region,
			Source:    v.Source,
		})
	}
	return ToVisitorResponse(v), nil
}

// GetByID returns one visitor.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (transport.VisitorResponse, error) {
	v, err := s.store.GetByID(ctx, id)
	if err != nil {
		return transport.VisitorResponse{}, s.mapError("visitors.GetByID", err)
	}
	return ToVisitorResponse(v), nil
}

// ApplyStatus moves a visitor through the pipeline, backfilling skipped
// stages. Without an expected version a concurrent write is absorbed by
// reloading and reapplying the change.
func (s *Service) ApplyStatus(ctx context.Context, in ApplyStatusInput) (transport.VisitorResponse, error) {
	target, err := domain.ParseStage(in.Status)
	if err != nil {
		return transport.VisitorResponse{}, apperr.Validation(err.Error())
	}

	notes := sanitize.TextPtr(in.Notes)
	var from domain.Stage
	var backfilled []string
	apply := func(v *domain.Visitor) error {
		from = v.Status
		before := make(map[domain.Stage]bool, len(v.PipelineHistory))
		for _, e := range v.PipelineHistory {
			before[e.Status] = true
		}
		if err := v.ApplyStatus(target, in.ChangedBy, notes, s.now()); err != nil {
			return err
		}
		backfilled = backfilled[:0]
		for _, e := range v.PipelineHistory {
			if !before[e.Status] && e.Status != target {
				backfilled = append(backfilled, string(e.Status))
			}
		}
		return nil
	}

	var saved *domain.Visitor
	if in.ExpectedVersion != nil {
		saved, err = repository.MutateAt(ctx, s.store, in.VisitorID, *in.ExpectedVersion, apply)
	} else {
		saved, err = repository.Mutate(ctx, s.store, in.VisitorID, repository.DefaultMutateAttempts, apply)
	}
	if err != nil {
		return transport.VisitorResponse{}, s.mapError("visitors.ApplyStatus", err)
	}

	s.log.Info("visitor stage changed",
		"visitorId", saved.ID,
		"from", from,
		"to", saved.Status,
		"backfilled", len(backfilled),
		"version", saved.Version,
	)
	if s.bus != nil {
		s.bus.Publish(ctx, events.VisitorStageChanged{
			BaseEvent:  events.NewBaseEvent(),
			VisitorID:  saved.ID,
			FromStatus: string(from),
			ToStatus:   string(saved.Status),
			Backfilled: append([]string(nil), backfilled...),
			ChangedBy:  saved.LastModifiedBy,
			Version:    saved.Version,
		})
	}
	return ToVisitorResponse(saved), nil
}

// List returns visitors filtered by stage, region and assignee.
func (s *Service) List(ctx context.Context, req transport.ListVisitorsRequest) (transport.VisitorListResponse, error) {
	page := req.Page
	pageSize := req.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	params := repository.ListParams{
		Region:         strings.TrimSpace(req.Region),
		OnlyUnassigned: req.Pending,
		Search:         strings.TrimSpace(req.Search),
		Offset:         (page - 1) * pageSize,
		Limit:          pageSize,
	}

	statuses, err := s.statusFilter(req)
	if err != nil {
		return transport.VisitorListResponse{}, err
	}
	if statuses != nil && len(statuses) == 0 {
		return toVisitorListResponse(nil, 0, page, pageSize), nil
	}
	params.Statuses = statuses

	if req.Assignee != "" {
		id, err := uuid.Parse(req.Assignee)
		if err != nil {
			return transport.VisitorListResponse{}, apperr.BadRequest(msgInvalidAssignee)
		}
		params.AssignedAgentID = &id
	}
	if req.Sales != "" {
		id, err := uuid.Parse(req.Sales)
		if err != nil {
			return transport.VisitorListResponse{}, apperr.BadRequest(msgInvalidAssignee)
		}
		params.SalesExecutiveID = &id
	}

	items, total, err := s.store.List(ctx, params)
	if err != nil {
		return transport.VisitorListResponse{}, s.mapError("visitors.List", err)
	}
	return toVisitorListResponse(items, total, page, pageSize), nil
}

// statusFilter combines the exact-status, at-or-beyond and converted filters
// into one stage set. A nil result means no status filter; an empty non-nil
// result means no stage can match.
func (s *Service) statusFilter(req transport.ListVisitorsRequest) ([]domain.Stage, error) {
	var sets [][]domain.Stage

	if req.Status != "" {
		st, err := domain.ParseStage(req.Status)
		if err != nil {
			return nil, apperr.Validation(err.Error())
		}
		sets = append(sets, []domain.Stage{st})
	}
	if req.AtOrBeyond != "" {
		threshold, err := domain.ParseStage(req.AtOrBeyond)
		if err != nil {
			return nil, apperr.Validation(err.Error())
		}
		sets = append(sets, domain.StagesAtOrBeyond(threshold, s.policy))
	}
	if req.Converted {
		sets = append(sets, domain.StagesAtOrBeyond(domain.StageConverted, s.policy))
	}

	if len(sets) == 0 {
		return nil, nil
	}
	result := sets[0]
	for _, next := range sets[1:] {
		allowed := make(map[domain.Stage]bool, len(next))
		for _, st := range next {
			allowed[st] = true
		}
		kept := make([]domain.Stage, 0, len(result))
		for _, st := range result {
			if allowed[st] {
				kept = append(kept, st)
			}
		}
		result = kept
	}
	return result, nil
}

// ListAtOrBeyond returns visitors that reached threshold under the
// configured unqualified policy.
func (s *Service) ListAtOrBeyond(ctx context.Context, threshold domain.Stage, page, pageSize int) (transport.VisitorListResponse, error) {
	return s.List(ctx, transport.ListVisitorsRequest{AtOrBeyond: string(threshold), Page: page, PageSize: pageSize})
}

// ListConverted returns visitors at or beyond the converted stage.
func (s *Service) ListConverted(ctx context.Context, page, pageSize int) (transport.VisitorListResponse, error) {
	return s.ListAtOrBeyond(ctx, domain.StageConverted, page, pageSize)
}

// Stages describes the pipeline order for clients.
func (s *Service) Stages() transport.StagesResponse {
	stages := domain.Stages()
	out := make([]transport.StageResponse, 0, len(stages)+1)
	for i := range stages {
		rank := i
		out = append(out, transport.StageResponse{Name: string(stages[i]), Rank: &rank})
	}
	out = append(out, transport.StageResponse{Name: string(domain.StageUnqualified)})
	return transport.StagesResponse{Stages: out, UnqualifiedPolicy: s.policy.String()}
}

// mapError translates store sentinels for HTTP callers. Store outages are
// logged with the failing operation.
func (s *Service) mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msgVisitorNotFound)
	case errors.Is(err, repository.ErrDuplicateContact):
		return apperr.Conflict(msgDuplicateContact)
	case errors.Is(err, repository.ErrStaleWrite):
		return apperr.Wrap(apperr.KindConflict, msgStaleVersion, err)
	case errors.Is(err, domain.ErrUnknownStage):
		return apperr.Wrap(apperr.KindValidation, err.Error(), err)
	case errors.Is(err, repository.ErrUnavailable):
		s.log.DatabaseError(op, err)
		return apperr.Wrap(apperr.KindUnavailable, msgStoreUnavailable, err).WithOp(op)
	default:
		return err
	}
}
