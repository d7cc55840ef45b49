// Package service routes visitors to executives and stores the outcome on
// the visitor record.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadflow_backend/internal/assignment/engine"
	"leadflow_backend/internal/assignment/transport"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/executives"
	"leadflow_backend/internal/taxonomy"
	"leadflow_backend/internal/visitors/domain"
	"leadflow_backend/internal/visitors/repository"
	visitorsvc "leadflow_backend/internal/visitors/service"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	msgVisitorNotFound   = "visitor not found"
	msgExecutiveNotFound = "executive not found"
	msgExecutiveInactive = "executive is not active"
	msgNoExecutive       = "no executive available; the visitor stays unassigned"
	msgNoRegion          = "visitor has no region"
	msgNoRegionExecutive = "no executive serves the visitor's region"
	msgAlreadyAssigned   = "visitor is already assigned; use a manual override to change it"
	msgStaleVersion      = "visitor was modified by someone else; reload and retry"
	msgStoreUnavailable  = "visitor store unavailable"
	msgUnknownField      = "field must be assignedAgent or salesExecutive"
)

// errNoChange short-circuits a manual override that would store the same state.
var errNoChange = errors.New("assignment unchanged")

// Directory lists executives eligible for a category, in rotation order.
type Directory interface {
	GetExecutivesFor(ctx context.Context, category taxonomy.Category) ([]uuid.UUID, error)
}

// Result describes one stored assignment.
type Result struct {
	VisitorID     uuid.UUID
	Field         domain.AssignmentField
	ExecutiveID   uuid.UUID
	ExecutiveName string
	Strategy      domain.AssignmentStrategy
	ViaFallback   bool
	Version       int
}

// ManualAssignmentInput is an operator override. A nil ExecutiveID clears
// the field.
type ManualAssignmentInput struct {
	VisitorID       uuid.UUID
	Field           string
	ExecutiveID     *uuid.UUID
	Reason          string
	ChangedBy       string
	ExpectedVersion *int
}

// Service routes visitors through the engine and persists the result.
type Service struct {
	store     repository.Store
	directory Directory
	execs     executives.Provider
	engine    *engine.Engine
	bus       events.Bus
	log       *logger.Logger
	now       func() time.Time
}

// New creates the assignment service with a fresh engine.
func New(store repository.Store, directory Directory, execs executives.Provider, bus events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		store:     store,
		directory: directory,
		execs:     execs,
		engine:    engine.New(),
		bus:       bus,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Engine exposes the rotation counters for introspection.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// AssignNext fills the service executive of one visitor: category
// round-robin first, then the global fallback pool.
func (s *Service) AssignNext(ctx context.Context, visitorID uuid.UUID) (transport.AssignResponse, error) {
	v, err := s.store.GetByID(ctx, visitorID)
	if err != nil {
		return transport.AssignResponse{}, s.mapError("assignment.AssignNext", err)
	}

	result, err := s.RouteByCategory(ctx, v)
	if errors.Is(err, engine.ErrNoCategoryExecutive) {
		result, err = s.RouteFallback(ctx, v)
	}
	if err != nil {
		return transport.AssignResponse{}, s.mapError("assignment.AssignNext", err)
	}
	return toAssignResponse(result, v, true), nil
}

// AssignNextByRegion fills the sales executive from the visitor's region.
func (s *Service) AssignNextByRegion(ctx context.Context, visitorID uuid.UUID) (transport.AssignResponse, error) {
	v, err := s.store.GetByID(ctx, visitorID)
	if err != nil {
		return transport.AssignResponse{}, s.mapError("assignment.AssignNextByRegion", err)
	}

	result, err := s.RouteByRegion(ctx, v)
	if err != nil {
		return transport.AssignResponse{}, s.mapError("assignment.AssignNextByRegion", err)
	}
	return toAssignResponse(result, v, true), nil
}

// RouteByCategory assigns v from the executives serving its category. It
// returns engine.ErrNoCategoryExecutive when the category has none, leaving
// the fallback decision to the caller. v is updated in place on success.
func (s *Service) RouteByCategory(ctx context.Context, v *domain.Visitor) (Result, error) {
	if !v.NeedsServiceAssignment() {
		return Result{}, engine.ErrAlreadyAssigned
	}

	category := v.Category()
	ids, err := s.directory.GetExecutivesFor(ctx, category)
	if err != nil {
		return Result{}, fmt.Errorf("list executives for %s: %w", category, err)
	}
	if len(ids) == 0 {
		return Result{}, engine.ErrNoCategoryExecutive
	}

	active, err := s.execs.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list active executives: %w", err)
	}

	pick, slot, err := s.engine.SelectByCategory(category, engine.FilterActive(ids, active))
	if err != nil {
		return Result{}, err
	}
	return s.persistSlot(ctx, v, slot, pick, domain.StrategyServiceRoundRobin, false)
}

// RouteFallback assigns v from every active executive.
func (s *Service) RouteFallback(ctx context.Context, v *domain.Visitor) (Result, error) {
	if !v.NeedsServiceAssignment() {
		return Result{}, engine.ErrAlreadyAssigned
	}

	active, err := s.execs.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list active executives: %w", err)
	}

	pick, slot, err := s.engine.SelectFallback(engine.Pool(active))
	if err != nil {
		return Result{}, err
	}
	return s.persistSlot(ctx, v, slot, pick, domain.StrategyFallbackRoundRobin, true)
}

// RouteByRegion assigns the sales executive of v by region rotation.
func (s *Service) RouteByRegion(ctx context.Context, v *domain.Visitor) (Result, error) {
	if !v.NeedsRegionAssignment() {
		if v.SalesExecutiveID != nil {
			return Result{}, engine.ErrAlreadyAssigned
		}
		return Result{}, engine.ErrNoRegion
	}

	active, err := s.execs.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list active executives: %w", err)
	}
	candidates := engine.InRegion(v.Region, active)
	if len(candidates) == 0 {
		return Result{}, engine.ErrNoRegionExecutive
	}

	ordinal, err := s.store.RegionOrdinal(ctx, v)
	if err != nil {
		return Result{}, fmt.Errorf("region ordinal: %w", err)
	}

	pick, err := s.engine.SelectByRegion(ordinal, candidates)
	if err != nil {
		return Result{}, err
	}
	return s.persist(ctx, v, domain.FieldSalesExecutive, pick, domain.StrategyRegionRotation, false)
}

// AssignManually applies an operator override to either field.
func (s *Service) AssignManually(ctx context.Context, in ManualAssignmentInput) (transport.AssignResponse, error) {
	field, err := domain.ParseAssignmentField(in.Field)
	if err != nil {
		return transport.AssignResponse{}, apperr.Validation(msgUnknownField)
	}

	var assignee *domain.Assignee
	if in.ExecutiveID != nil {
		exec, err := s.execs.Get(ctx, *in.ExecutiveID)
		if err != nil {
			return transport.AssignResponse{}, s.mapError("assignment.AssignManually", err)
		}
		if !exec.IsActive {
			return transport.AssignResponse{}, apperr.Validation(msgExecutiveInactive)
		}
		assignee = &domain.Assignee{ID: exec.ID, Name: exec.DisplayName}
	}

	var previous *uuid.UUID
	apply := func(current *domain.Visitor) error {
		previous = current.CurrentAssignee(field)
		if assignee == nil {
			if previous == nil {
				return errNoChange
			}
			current.Unassign(field, in.Reason, in.ChangedBy, s.now())
			return nil
		}
		if previous != nil && *previous == assignee.ID {
			return errNoChange
		}
		current.Assign(field, *assignee, domain.StrategyManual, false, in.Reason, in.ChangedBy, s.now())
		return nil
	}

	var saved *domain.Visitor
	if in.ExpectedVersion != nil {
		saved, err = repository.MutateAt(ctx, s.store, in.VisitorID, *in.ExpectedVersion, apply)
	} else {
		saved, err = repository.Mutate(ctx, s.store, in.VisitorID, repository.DefaultMutateAttempts, apply)
	}
	if errors.Is(err, errNoChange) {
		current, getErr := s.store.GetByID(ctx, in.VisitorID)
		if getErr != nil {
			return transport.AssignResponse{}, s.mapError("assignment.AssignManually", getErr)
		}
		return toManualResponse(current, field, false), nil
	}
	if err != nil {
		return transport.AssignResponse{}, s.mapError("assignment.AssignManually", err)
	}

	if assignee == nil {
		s.log.Info("visitor unassigned", "visitorId", saved.ID, "field", field, "changedBy", in.ChangedBy)
		if s.bus != nil {
			s.bus.Publish(ctx, events.VisitorUnassigned{
				BaseEvent:           events.NewBaseEvent(),
				VisitorID:           saved.ID,
				Field:               string(field),
				PreviousExecutiveID: previous,
				Reason:              in.Reason,
				ChangedBy:           in.ChangedBy,
			})
		}
	} else {
		s.publishAssigned(ctx, saved, field, *assignee, domain.StrategyManual, false, in.ChangedBy)
	}
	return toManualResponse(saved, field, true), nil
}

// persistSlot stores a rotation pick for the service field and hands the
// slot back to the engine when nothing was stored.
func (s *Service) persistSlot(ctx context.Context, v *domain.Visitor, slot engine.Slot, pick executives.Executive, strategy domain.AssignmentStrategy, viaFallback bool) (Result, error) {
	res, err := s.persist(ctx, v, domain.FieldAssignedAgent, pick, strategy, viaFallback)
	if err != nil && s.engine.Release(slot) {
		s.log.Debug("rotation slot released", "visitorId", v.ID, "strategy", strategy, "error", err)
	}
	return res, err
}

// persist stores pick on v. The first attempt saves against the version v
// was loaded at; a stale write reloads and re-checks that the field is still
// empty before reusing the same pick, so counters advance once per decision.
func (s *Service) persist(ctx context.Context, v *domain.Visitor, field domain.AssignmentField, pick executives.Executive, strategy domain.AssignmentStrategy, viaFallback bool) (Result, error) {
	assignee := domain.Assignee{ID: pick.ID, Name: pick.DisplayName}
	apply := func(current *domain.Visitor) error {
		if !needsField(current, field) {
			return engine.ErrAlreadyAssigned
		}
		current.Assign(field, assignee, strategy, viaFallback, "", domain.SystemActor, s.now())
		return nil
	}

	working := v.Clone()
	if err := apply(working); err != nil {
		return Result{}, err
	}
	err := s.store.Save(ctx, working, v.Version)
	if errors.Is(err, repository.ErrStaleWrite) {
		s.log.Debug("stale visitor on assignment, retrying", "visitorId", v.ID, "field", field)
		working, err = repository.Mutate(ctx, s.store, v.ID, repository.DefaultMutateAttempts-1, apply)
	}
	if err != nil {
		return Result{}, err
	}

	*v = *working
	s.publishAssigned(ctx, working, field, assignee, strategy, viaFallback, domain.SystemActor)

	return Result{
		VisitorID:     working.ID,
		Field:         field,
		ExecutiveID:   pick.ID,
		ExecutiveName: pick.DisplayName,
		Strategy:      strategy,
		ViaFallback:   viaFallback,
		Version:       working.Version,
	}, nil
}

func (s *Service) publishAssigned(ctx context.Context, v *domain.Visitor, field domain.AssignmentField, to domain.Assignee, strategy domain.AssignmentStrategy, viaFallback bool, changedBy string) {
	s.log.Info("visitor assigned",
		"visitorId", v.ID,
		"field", field,
		"executiveId", to.ID,
		"strategy", strategy,
		"viaFallback", viaFallback,
	)
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.VisitorAssigned{
		BaseEvent:     events.NewBaseEvent(),
		VisitorID:     v.ID,
		Field:         string(field),
		ExecutiveID:   to.ID,
		ExecutiveName: to.Name,
		Strategy:      string(strategy),
		ViaFallback:   viaFallback,
		ChangedBy:     changedBy,
	})
}

func needsField(v *domain.Visitor, field domain.AssignmentField) bool {
	if field == domain.FieldSalesExecutive {
		return v.NeedsRegionAssignment()
	}
	return v.NeedsServiceAssignment()
}

func toAssignResponse(r Result, v *domain.Visitor, changed bool) transport.AssignResponse {
	id := r.ExecutiveID
	return transport.AssignResponse{
		Assignment: transport.AssignmentResultResponse{
			Field:         string(r.Field),
			ExecutiveID:   &id,
			ExecutiveName: r.ExecutiveName,
			Strategy:      string(r.Strategy),
			ViaFallback:   r.ViaFallback,
			Changed:       changed,
		},
		Visitor: visitorsvc.ToVisitorResponse(v),
	}
}

func toManualResponse(v *domain.Visitor, field domain.AssignmentField, changed bool) transport.AssignResponse {
	name := v.AssignedAgentName
	if field == domain.FieldSalesExecutive {
		name = v.SalesExecutiveName
	}
	return transport.AssignResponse{
		Assignment: transport.AssignmentResultResponse{
			Field:         string(field),
			ExecutiveID:   v.CurrentAssignee(field),
			ExecutiveName: name,
			Strategy:      string(domain.StrategyManual),
			Changed:       changed,
		},
		Visitor: visitorsvc.ToVisitorResponse(v),
	}
}

// mapError translates store and engine sentinels for HTTP callers. Store
// outages are logged with the failing operation.
func (s *Service) mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msgVisitorNotFound)
	case errors.Is(err, executives.ErrNotFound):
		return apperr.NotFound(msgExecutiveNotFound)
	case errors.Is(err, engine.ErrNoExecutiveAvailable):
		return apperr.Wrap(apperr.KindConflict, msgNoExecutive, err)
	case errors.Is(err, engine.ErrNoRegion):
		return apperr.Wrap(apperr.KindValidation, msgNoRegion, err)
	case errors.Is(err, engine.ErrNoRegionExecutive):
		return apperr.Wrap(apperr.KindConflict, msgNoRegionExecutive, err)
	case errors.Is(err, engine.ErrAlreadyAssigned):
		return apperr.Wrap(apperr.KindConflict, msgAlreadyAssigned, err)
	case errors.Is(err, repository.ErrStaleWrite):
		return apperr.Wrap(apperr.KindConflict, msgStaleVersion, err)
	case errors.Is(err, repository.ErrUnavailable):
		s.log.DatabaseError(op, err)
		return apperr.Wrap(apperr.KindUnavailable, msgStoreUnavailable, err).WithOp(op)
	default:
		return err
	}
}
