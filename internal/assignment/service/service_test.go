package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadflow_backend/internal/assignment/engine"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/executives"
	"leadflow_backend/internal/taxonomy"
	"leadflow_backend/internal/visitors/domain"
	"leadflow_backend/internal/visitors/repository"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeDirectory struct {
	byCategory map[taxonomy.Category][]uuid.UUID
}

func (d *fakeDirectory) GetExecutivesFor(_ context.Context, category taxonomy.Category) ([]uuid.UUID, error) {
	return d.byCategory[category], nil
}

// interferingStore lets another writer change the visitor right before the
// first save lands.
type interferingStore struct {
	*repository.MemoryStore
	mu     sync.Mutex
	before func(ctx context.Context, store *repository.MemoryStore, id uuid.UUID)
}

func (s *interferingStore) Save(ctx context.Context, v *domain.Visitor, expectedVersion int) error {
	s.mu.Lock()
	hook := s.before
	s.before = nil
	s.mu.Unlock()
	if hook != nil {
		hook(ctx, s.MemoryStore, v.ID)
	}
	return s.MemoryStore.Save(ctx, v, expectedVersion)
}

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newExec(name, region string, offset int) executives.Executive {
	return executives.Executive{
		ID:          uuid.New(),
		DisplayName: name,
		Role:        "executive",
		Region:      region,
		IsActive:    true,
		CreatedAt:   epoch.Add(time.Duration(offset) * time.Minute),
	}
}

func createVisitor(t *testing.T, store repository.Store, name, service, region string) *domain.Visitor {
	t.Helper()
	v := domain.NewVisitor(domain.NewVisitorParams{
		Name:    name,
		Service: service,
		Region:  region,
		Source:  "chatbot",
	}, "chatbot", epoch)
	if err := store.Create(context.Background(), v); err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return v
}

func TestAssignNextRoundRobinIsFair(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	a, b, c := newExec("Asha", "", 0), newExec("Bilal", "", 1), newExec("Chen", "", 2)
	dir := &fakeDirectory{byCategory: map[taxonomy.Category][]uuid.UUID{
		taxonomy.Water: {a.ID, b.ID, c.ID},
	}}
	svc := New(store, dir, executives.NewMemory(a, b, c), nil, logger.Discard())

	const k = 3
	counts := make(map[uuid.UUID]int)
	for i := 0; i < 3*k; i++ {
		v := createVisitor(t, store, "visitor", "Water Testing", "")
		resp, err := svc.AssignNext(ctx, v.ID)
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		if resp.Assignment.ViaFallback || resp.Assignment.Strategy != string(domain.StrategyServiceRoundRobin) {
			t.Fatalf("expected category routing, got %+v", resp.Assignment)
		}
		counts[*resp.Assignment.ExecutiveID]++
	}

	for _, exec := range []executives.Executive{a, b, c} {
		if counts[exec.ID] != k {
			t.Fatalf("expected %d visitors for %s, got %d", k, exec.DisplayName, counts[exec.ID])
		}
	}
}

func TestAssignNextFallsBackWhenCategoryHasNoExecutive(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	water := newExec("Wanjiru", "", 0)
	dir := &fakeDirectory{byCategory: map[taxonomy.Category][]uuid.UUID{
		taxonomy.Water: {water.ID},
	}}
	bus := events.NewInMemoryBus(logger.Discard())
	var mu sync.Mutex
	var published []events.VisitorAssigned
	bus.Subscribe(events.NameVisitorAssigned, events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, e.(events.VisitorAssigned))
		return nil
	}))
	svc := New(store, dir, executives.NewMemory(water), bus, logger.Discard())

	v := createVisitor(t, store, "Plant", "Stack Emission", "")
	if v.Category() != taxonomy.Environmental {
		t.Fatalf("expected Environmental Testing, got %s", v.Category())
	}

	resp, err := svc.AssignNext(ctx, v.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	bus.Wait()

	if !resp.Assignment.ViaFallback || resp.Assignment.Strategy != string(domain.StrategyFallbackRoundRobin) {
		t.Fatalf("expected fallback assignment, got %+v", resp.Assignment)
	}

	stored, _ := store.GetByID(ctx, v.ID)
	if stored.AssignedAgentID == nil || *stored.AssignedAgentID != water.ID || stored.AssignedAgentName != "Wanjiru" {
		t.Fatalf("expected visitor assigned to the only executive, got %+v", stored.AssignedAgentID)
	}
	if len(stored.AssignmentHistory) != 1 || !stored.AssignmentHistory[0].ViaFallback {
		t.Fatalf("expected one fallback audit entry, got %+v", stored.AssignmentHistory)
	}
	if stored.Version != v.Version+1 {
		t.Fatalf("expected version bump, got %d", stored.Version)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 1 || !published[0].ViaFallback || published[0].ExecutiveID != water.ID {
		t.Fatalf("unexpected published events: %+v", published)
	}
}

func TestFallbackNeverStarvesAndEmptyPoolLeavesVisitorUnassigned(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	a, b := newExec("Asha", "", 0), newExec("Bilal", "", 1)
	execs := executives.NewMemory(a, b)
	svc := New(store, &fakeDirectory{}, execs, nil, logger.Discard())

	for i := 0; i < 4; i++ {
		v := createVisitor(t, store, "visitor", "Calibration", "")
		if _, err := svc.AssignNext(ctx, v.ID); err != nil {
			t.Fatalf("assign %d: %v", i, err)
		}
	}
	if got := svc.Engine().Snapshot().Fallback; got != 4 {
		t.Fatalf("expected fallback counter 4, got %d", got)
	}

	execs.SetActive(a.ID, false)
	execs.SetActive(b.ID, false)
	v := createVisitor(t, store, "late", "Calibration", "")
	_, err := svc.AssignNext(ctx, v.ID)
	if !apperr.Is(err, apperr.KindConflict) || !errors.Is(err, engine.ErrNoExecutiveAvailable) {
		t.Fatalf("expected no executive available, got %v", err)
	}
	stored, _ := store.GetByID(ctx, v.ID)
	if stored.AssignedAgentID != nil {
		t.Fatalf("visitor must stay unassigned")
	}
}

func TestInactiveDirectoryExecutivesAreSkipped(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	a, b := newExec("Asha", "", 0), newExec("Bilal", "", 1)
	execs := executives.NewMemory(a, b)
	execs.SetActive(a.ID, false)
	dir := &fakeDirectory{byCategory: map[taxonomy.Category][]uuid.UUID{
		taxonomy.Food: {a.ID, b.ID},
	}}
	svc := New(store, dir, execs, nil, logger.Discard())

	for i := 0; i < 2; i++ {
		v := createVisitor(t, store, "visitor", "Food Testing", "")
		resp, err := svc.AssignNext(ctx, v.ID)
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		if *resp.Assignment.ExecutiveID != b.ID || resp.Assignment.ViaFallback {
			t.Fatalf("expected only the active executive, got %+v", resp.Assignment)
		}
	}
}

func TestAssignNextAlreadyAssignedIsConflict(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	a := newExec("Asha", "", 0)
	svc := New(store, &fakeDirectory{}, executives.NewMemory(a), nil, logger.Discard())

	v := createVisitor(t, store, "visitor", "Others", "")
	if _, err := svc.AssignNext(ctx, v.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := svc.AssignNext(ctx, v.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict on second assign, got %v", err)
	}
	if _, err := svc.AssignNext(ctx, uuid.New()); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegionRotationSplitsEvenlyAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	n1, n2 := newExec("Nadia", "North", 0), newExec("Noel", "north", 1)
	south := newExec("Sipho", "South", 2)
	svc := New(store, &fakeDirectory{}, executives.NewMemory(n1, n2, south), nil, logger.Discard())

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, createVisitor(t, store, "visitor", "Water", "North").ID)
	}

	counts := make(map[uuid.UUID]int)
	first := make(map[uuid.UUID]uuid.UUID)
	for _, id := range ids {
		resp, err := svc.AssignNextByRegion(ctx, id)
		if err != nil {
			t.Fatalf("assign by region: %v", err)
		}
		counts[*resp.Assignment.ExecutiveID]++
		first[id] = *resp.Assignment.ExecutiveID
	}
	if counts[n1.ID]+counts[n2.ID] != 5 || counts[south.ID] != 0 {
		t.Fatalf("expected only north executives, got %v", counts)
	}
	if counts[n1.ID] != 3 && counts[n2.ID] != 3 {
		t.Fatalf("expected a 3/2 split, got %d/%d", counts[n1.ID], counts[n2.ID])
	}

	// Clearing and re-running must land on the same executive.
	target := ids[3]
	if _, err := svc.AssignManually(ctx, ManualAssignmentInput{
		VisitorID: target,
		Field:     string(domain.FieldSalesExecutive),
		Reason:    "recheck",
		ChangedBy: "ops@example.com",
	}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	again, err := svc.AssignNextByRegion(ctx, target)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if *again.Assignment.ExecutiveID != first[target] {
		t.Fatalf("expected the same executive on re-run")
	}
}

func TestRegionRoutingSkipsVisitorsWithoutRegion(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := New(store, &fakeDirectory{}, executives.NewMemory(newExec("Nadia", "North", 0)), nil, logger.Discard())

	v := createVisitor(t, store, "visitor", "Water", "  ")
	_, err := svc.AssignNextByRegion(ctx, v.ID)
	if !apperr.Is(err, apperr.KindValidation) || !errors.Is(err, engine.ErrNoRegion) {
		t.Fatalf("expected no region validation error, got %v", err)
	}

	w := createVisitor(t, store, "west", "Water", "West")
	if _, err := svc.AssignNextByRegion(ctx, w.ID); !errors.Is(err, engine.ErrNoRegionExecutive) {
		t.Fatalf("expected no region executive, got %v", err)
	}
}

func TestStaleWriteRetriesWithTheSamePick(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	store := &interferingStore{MemoryStore: mem}
	a, b := newExec("Asha", "", 0), newExec("Bilal", "", 1)
	dir := &fakeDirectory{byCategory: map[taxonomy.Category][]uuid.UUID{taxonomy.Water: {a.ID, b.ID}}}
	svc := New(store, dir, executives.NewMemory(a, b), nil, logger.Discard())

	v := createVisitor(t, store, "Ravi", "Water", "")
	notes := "called back"
	store.before = func(ctx context.Context, inner *repository.MemoryStore, id uuid.UUID) {
		other, _ := inner.GetByID(ctx, id)
		version := other.Version
		if err := other.ApplyStatus(domain.StageContactInitiated, "agent@example.com", &notes, epoch); err != nil {
			t.Errorf("apply status: %v", err)
		}
		if err := inner.Save(ctx, other, version); err != nil {
			t.Errorf("interfering save: %v", err)
		}
	}

	resp, err := svc.AssignNext(ctx, v.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if *resp.Assignment.ExecutiveID != a.ID {
		t.Fatalf("expected first executive to be kept on retry")
	}

	stored, _ := mem.GetByID(ctx, v.ID)
	if stored.Status != domain.StageContactInitiated {
		t.Fatalf("concurrent stage change was lost: %s", stored.Status)
	}
	if stored.AssignedAgentID == nil || *stored.AssignedAgentID != a.ID {
		t.Fatalf("assignment was lost")
	}
	if got := svc.Engine().Snapshot().Category[taxonomy.Water]; got != 1 {
		t.Fatalf("expected counter to advance once, got %d", got)
	}
}

func TestConcurrentAssignmentWinsOverRetry(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	store := &interferingStore{MemoryStore: mem}
	a, b := newExec("Asha", "", 0), newExec("Bilal", "", 1)
	dir := &fakeDirectory{byCategory: map[taxonomy.Category][]uuid.UUID{taxonomy.Water: {a.ID, b.ID}}}
	svc := New(store, dir, executives.NewMemory(a, b), nil, logger.Discard())

	v := createVisitor(t, store, "Ravi", "Water", "")
	store.before = func(ctx context.Context, inner *repository.MemoryStore, id uuid.UUID) {
		other, _ := inner.GetByID(ctx, id)
		version := other.Version
		other.Assign(domain.FieldAssignedAgent, domain.Assignee{ID: b.ID, Name: b.DisplayName}, domain.StrategyManual, false, "", "ops", epoch)
		if err := inner.Save(ctx, other, version); err != nil {
			t.Errorf("interfering save: %v", err)
		}
	}

	loaded, _ := store.GetByID(ctx, v.ID)
	if _, err := svc.RouteByCategory(ctx, loaded); !errors.Is(err, engine.ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
	stored, _ := mem.GetByID(ctx, v.ID)
	if *stored.AssignedAgentID != b.ID || len(stored.AssignmentHistory) != 1 {
		t.Fatalf("the concurrent assignment must stand alone")
	}
	if got := svc.Engine().Snapshot().Category[taxonomy.Water]; got != 0 {
		t.Fatalf("unused pick must give its rotation slot back, counter at %d", got)
	}

	next := createVisitor(t, store, "Meera", "Water", "")
	res, err := svc.RouteByCategory(ctx, next)
	if err != nil || res.ExecutiveID != a.ID {
		t.Fatalf("next visitor should get the released slot, got %+v, %v", res, err)
	}
}

// failingSaveStore fails every save with a store outage.
type failingSaveStore struct {
	*repository.MemoryStore
}

func (failingSaveStore) Save(context.Context, *domain.Visitor, int) error {
	return repository.ErrUnavailable
}

func TestFailedFallbackSaveKeepsRotationPosition(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	a, b := newExec("Asha", "", 0), newExec("Bilal", "", 1)
	svc := New(failingSaveStore{MemoryStore: mem}, &fakeDirectory{}, executives.NewMemory(a, b), nil, logger.Discard())

	v := createVisitor(t, mem, "Ravi", "Stack Emission", "")
	if _, err := svc.RouteFallback(ctx, v); !errors.Is(err, repository.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := svc.Engine().Snapshot().Fallback; got != 0 {
		t.Fatalf("failed save must not consume a fallback slot, counter at %d", got)
	}
}

func TestManualOverrideSetsAndClears(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	a, b := newExec("Asha", "", 0), newExec("Bilal", "", 1)
	execs := executives.NewMemory(a, b)
	svc := New(store, &fakeDirectory{}, execs, nil, logger.Discard())

	v := createVisitor(t, store, "visitor", "Water", "")
	if _, err := svc.AssignNext(ctx, v.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	resp, err := svc.AssignManually(ctx, ManualAssignmentInput{
		VisitorID:   v.ID,
		Field:       string(domain.FieldAssignedAgent),
		ExecutiveID: &b.ID,
		Reason:      "customer asked for Bilal",
		ChangedBy:   "ops@example.com",
	})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if !resp.Assignment.Changed || *resp.Assignment.ExecutiveID != b.ID {
		t.Fatalf("unexpected override result: %+v", resp.Assignment)
	}

	stored, _ := store.GetByID(ctx, v.ID)
	last := stored.AssignmentHistory[len(stored.AssignmentHistory)-1]
	if last.Strategy != domain.StrategyManual || last.ChangedBy != "ops@example.com" || last.PreviousExecutiveID == nil || *last.PreviousExecutiveID != a.ID {
		t.Fatalf("unexpected audit entry: %+v", last)
	}

	same, err := svc.AssignManually(ctx, ManualAssignmentInput{
		VisitorID:   v.ID,
		Field:       string(domain.FieldAssignedAgent),
		ExecutiveID: &b.ID,
		ChangedBy:   "ops@example.com",
	})
	if err != nil || same.Assignment.Changed {
		t.Fatalf("expected no-op override, got %+v err=%v", same.Assignment, err)
	}

	cleared, err := svc.AssignManually(ctx, ManualAssignmentInput{
		VisitorID:       v.ID,
		Field:           string(domain.FieldAssignedAgent),
		ChangedBy:       "ops@example.com",
		ExpectedVersion: &stored.Version,
	})
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared.Assignment.ExecutiveID != nil || cleared.Visitor.AssignedAgentID != nil {
		t.Fatalf("expected field cleared, got %+v", cleared.Assignment)
	}

	if _, err := svc.AssignManually(ctx, ManualAssignmentInput{
		VisitorID:       v.ID,
		Field:           string(domain.FieldAssignedAgent),
		ExecutiveID:     &a.ID,
		ChangedBy:       "ops@example.com",
		ExpectedVersion: &stored.Version,
	}); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected stale version conflict, got %v", err)
	}
}

func TestManualOverrideValidatesInput(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	a := newExec("Asha", "", 0)
	execs := executives.NewMemory(a)
	execs.SetActive(a.ID, false)
	svc := New(store, &fakeDirectory{}, execs, nil, logger.Discard())
	v := createVisitor(t, store, "visitor", "Water", "")

	missing := uuid.New()
	cases := []struct {
		name  string
		input ManualAssignmentInput
		kind  apperr.Kind
	}{
		{"unknown field", ManualAssignmentInput{VisitorID: v.ID, Field: "owner"}, apperr.KindValidation},
		{"unknown executive", ManualAssignmentInput{VisitorID: v.ID, Field: "assignedAgent", ExecutiveID: &missing}, apperr.KindNotFound},
		{"inactive executive", ManualAssignmentInput{VisitorID: v.ID, Field: "assignedAgent", ExecutiveID: &a.ID}, apperr.KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AssignManually(ctx, tc.input); !apperr.Is(err, tc.kind) {
				t.Fatalf("expected kind %v, got %v", tc.kind, err)
			}
		})
	}
}
