package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	assignsvc "leadflow_backend/internal/assignment/service"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/executives"
	"leadflow_backend/internal/taxonomy"
	"leadflow_backend/internal/visitors/domain"
	"leadflow_backend/internal/visitors/repository"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/redislock"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *manualTicker) Chan() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()                  { t.stopped.Store(true) }

type mapDirectory map[taxonomy.Category][]uuid.UUID

func (d mapDirectory) GetExecutivesFor(_ context.Context, category taxonomy.Category) ([]uuid.UUID, error) {
	return d[category], nil
}

var epoch = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newExec(name, region string, offset int) executives.Executive {
	return executives.Executive{
		ID:          uuid.New(),
		DisplayName: name,
		Region:      region,
		IsActive:    true,
		CreatedAt:   epoch.Add(time.Duration(offset) * time.Minute),
	}
}

func seed(t *testing.T, store repository.Store, name, service, region string) *domain.Visitor {
	t.Helper()
	v := domain.NewVisitor(domain.NewVisitorParams{Name: name, Service: service, Region: region}, "chatbot", epoch)
	if err := store.Create(context.Background(), v); err != nil {
		t.Fatalf("create: %v", err)
	}
	return v
}

func newTestReconciler(store repository.Store, dir mapDirectory, execs ...executives.Executive) (*Reconciler, *assignsvc.Service) {
	svc := assignsvc.New(store, dir, executives.NewMemory(execs...), nil, logger.Discard())
	return New(store, svc, nil, logger.Discard(), Options{BatchSize: 100}), svc
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestPassRoutesStackEmissionThroughFallback(t *testing.T) {
	store := repository.NewMemoryStore()
	water := newExec("Wanjiru", "", 0)
	r, _ := newTestReconciler(store, mapDirectory{taxonomy.Water: {water.ID}}, water)

	v := seed(t, store, "Plant", "Stack Emission", "")
	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if report.Examined != 1 || report.FallbackRouted != 1 || report.ServiceRouted != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	stored, _ := store.GetByID(context.Background(), v.ID)
	if stored.AssignedAgentID == nil || *stored.AssignedAgentID != water.ID {
		t.Fatalf("expected fallback owner")
	}
	if !stored.AssignmentHistory[0].ViaFallback {
		t.Fatalf("expected fallback tag on the audit entry")
	}
}

func TestPassIsFairAndRoutesCategoryBeforeFallback(t *testing.T) {
	store := repository.NewMemoryStore()
	a, b := newExec("Asha", "", 0), newExec("Bilal", "", 1)
	r, svc := newTestReconciler(store, mapDirectory{taxonomy.Water: {a.ID, b.ID}}, a, b)

	for i := 0; i < 4; i++ {
		seed(t, store, fmt.Sprintf("water-%d", i), "Water", "")
		seed(t, store, fmt.Sprintf("food-%d", i), "Food", "")
	}

	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if report.ServiceRouted != 4 || report.FallbackRouted != 4 || report.Unassigned != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	visitors, _, _ := store.List(context.Background(), repository.ListParams{Limit: 100})
	water := make(map[uuid.UUID]int)
	for _, v := range visitors {
		if v.Category() == taxonomy.Water {
			water[*v.AssignedAgentID]++
		}
	}
	if water[a.ID] != 2 || water[b.ID] != 2 {
		t.Fatalf("expected 2/2 water split, got %d/%d", water[a.ID], water[b.ID])
	}
	if snap := svc.Engine().Snapshot(); snap.Category[taxonomy.Water] != 4 || snap.Fallback != 4 {
		t.Fatalf("unexpected counters: %+v", snap)
	}

	again, err := r.RunOnce(context.Background())
	if err != nil || again.Examined != 0 {
		t.Fatalf("expected nothing left to do, got %+v err=%v", again, err)
	}
}

func TestPassSplitsRegionThreeTwo(t *testing.T) {
	store := repository.NewMemoryStore()
	svcExec := newExec("Asha", "", 0)
	n1, n2 := newExec("Nadia", "North", 1), newExec("Noel", "North", 2)
	r, _ := newTestReconciler(store, mapDirectory{taxonomy.Water: {svcExec.ID}}, svcExec, n1, n2)

	for i := 0; i < 5; i++ {
		seed(t, store, fmt.Sprintf("north-%d", i), "Water", "North")
	}
	seed(t, store, "nowhere", "Water", "")

	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if report.RegionRouted != 5 || report.RegionSkipped != 1 || report.ServiceRouted != 6 {
		t.Fatalf("unexpected report: %+v", report)
	}

	visitors, _, _ := store.List(context.Background(), repository.ListParams{Region: "north", Limit: 100})
	counts := make(map[uuid.UUID]int)
	for _, v := range visitors {
		counts[*v.SalesExecutiveID]++
	}
	if !(counts[n1.ID] == 3 && counts[n2.ID] == 2) && !(counts[n1.ID] == 2 && counts[n2.ID] == 3) {
		t.Fatalf("expected a 3/2 split, got %d/%d", counts[n1.ID], counts[n2.ID])
	}
}

// blockingQueue parks the first pass inside the store until released.
type blockingQueue struct {
	repository.Store
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (q *blockingQueue) ListNeedingAssignment(ctx context.Context, afterSeq int64, limit int) ([]*domain.Visitor, error) {
	if q.calls.Add(1) == 1 {
		close(q.entered)
		<-q.release
	}
	return q.Store.ListNeedingAssignment(ctx, afterSeq, limit)
}

// countingAssigner records how many routing calls were made.
type countingAssigner struct {
	*assignsvc.Service
	calls atomic.Int32
}

func (a *countingAssigner) RouteByCategory(ctx context.Context, v *domain.Visitor) (assignsvc.Result, error) {
	a.calls.Add(1)
	return a.Service.RouteByCategory(ctx, v)
}

func TestOverlappingPassIsSkippedNotQueued(t *testing.T) {
	store := repository.NewMemoryStore()
	a := newExec("Asha", "", 0)
	svc := assignsvc.New(store, mapDirectory{taxonomy.Water: {a.ID}}, executives.NewMemory(a), nil, logger.Discard())
	assigner := &countingAssigner{Service: svc}
	queue := &blockingQueue{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
	r := New(queue, assigner, nil, logger.Discard(), Options{})

	for i := 0; i < 3; i++ {
		seed(t, store, fmt.Sprintf("v%d", i), "Water", "")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var first PassReport
	var firstErr error
	go func() {
		defer wg.Done()
		first, firstErr = r.RunOnce(context.Background())
	}()
	<-queue.entered

	if !r.Stats().InFlight {
		t.Fatalf("expected a pass in flight")
	}
	if _, err := r.RunOnce(context.Background()); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("expected ErrPassInProgress, got %v", err)
	}
	if got := assigner.calls.Load(); got != 0 {
		t.Fatalf("skipped pass must not route anything, got %d calls", got)
	}

	close(queue.release)
	wg.Wait()
	if firstErr != nil || first.ServiceRouted != 3 {
		t.Fatalf("unexpected first pass: %+v err=%v", first, firstErr)
	}
	if got := assigner.calls.Load(); got != 3 {
		t.Fatalf("expected 3 routing calls from the first pass only, got %d", got)
	}

	stats := r.Stats()
	if stats.SkippedPasses != 1 || stats.CompletedPasses != 1 || stats.InFlight {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.CategoryCounters[string(taxonomy.Water)] != 3 {
		t.Fatalf("expected engine counters in stats, got %+v", stats.CategoryCounters)
	}
}

// flakyAssigner fails or panics for chosen visitors.
type flakyAssigner struct {
	*assignsvc.Service
	failFor  uuid.UUID
	panicFor uuid.UUID
	downFor  uuid.UUID
}

func (a *flakyAssigner) RouteByCategory(ctx context.Context, v *domain.Visitor) (assignsvc.Result, error) {
	switch v.ID {
	case a.failFor:
		return assignsvc.Result{}, errors.New("malformed record")
	case a.panicFor:
		panic("nil pipeline")
	case a.downFor:
		return assignsvc.Result{}, fmt.Errorf("save: %w", repository.ErrUnavailable)
	}
	return a.Service.RouteByCategory(ctx, v)
}

func TestBadRecordsAreSkipped(t *testing.T) {
	store := repository.NewMemoryStore()
	a := newExec("Asha", "", 0)
	svc := assignsvc.New(store, mapDirectory{taxonomy.Water: {a.ID}}, executives.NewMemory(a), nil, logger.Discard())

	bad := seed(t, store, "bad", "Water", "")
	crashing := seed(t, store, "crashing", "Water", "")
	good := seed(t, store, "good", "Water", "")

	r := New(store, &flakyAssigner{Service: svc, failFor: bad.ID, panicFor: crashing.ID}, nil, logger.Discard(), Options{})
	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("pass must not abort on bad records: %v", err)
	}
	if report.Failed != 2 || report.ServiceRouted != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	stored, _ := store.GetByID(context.Background(), good.ID)
	if stored.AssignedAgentID == nil {
		t.Fatalf("good visitor should be assigned")
	}
}

func TestTransientErrorAbortsPass(t *testing.T) {
	store := repository.NewMemoryStore()
	a := newExec("Asha", "", 0)
	svc := assignsvc.New(store, mapDirectory{taxonomy.Water: {a.ID}}, executives.NewMemory(a), nil, logger.Discard())

	down := seed(t, store, "down", "Water", "")
	later := seed(t, store, "later", "Water", "")

	r := New(store, &flakyAssigner{Service: svc, downFor: down.ID}, nil, logger.Discard(), Options{})
	report, err := r.RunOnce(context.Background())
	if !errors.Is(err, repository.ErrUnavailable) {
		t.Fatalf("expected unavailable abort, got %v", err)
	}
	if report.ServiceRouted != 0 {
		t.Fatalf("pass should stop at the transient failure, got %+v", report)
	}
	stored, _ := store.GetByID(context.Background(), later.ID)
	if stored.AssignedAgentID != nil {
		t.Fatalf("visitor after the failure must be left for the next tick")
	}

	stats := r.Stats()
	if stats.AbortedPasses != 1 || stats.LastPass == nil || !stats.LastPass.Aborted || stats.LastPass.Error == "" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

type unavailableQueue struct{}

func (unavailableQueue) ListNeedingAssignment(context.Context, int64, int) ([]*domain.Visitor, error) {
	return nil, repository.ErrUnavailable
}

func TestLoopSurvivesFailedPassesUntilStopped(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := assignsvc.New(store, mapDirectory{}, executives.NewMemory(), nil, logger.Discard())
	r := New(unavailableQueue{}, svc, nil, logger.Discard(), Options{Interval: time.Hour})
	ticker := &manualTicker{ch: make(chan time.Time, 4)}
	r.tickerFactory = func(time.Duration) passTicker { return ticker }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()
	waitFor(t, 2*time.Second, func() bool { return r.Stats().AbortedPasses == 2 })
	if !r.Running() {
		t.Fatalf("loop must keep running after failed passes")
	}

	r.Stop()
	if r.Running() || !ticker.stopped.Load() {
		t.Fatalf("expected loop and ticker stopped")
	}
	r.Stop()
}

func TestStartRunsOnStartAndTicks(t *testing.T) {
	store := repository.NewMemoryStore()
	a := newExec("Asha", "", 0)
	svc := assignsvc.New(store, mapDirectory{taxonomy.Water: {a.ID}}, executives.NewMemory(a), nil, logger.Discard())
	bus := events.NewInMemoryBus(logger.Discard())
	var completed atomic.Int32
	bus.Subscribe(events.NameAssignmentPassCompleted, events.HandlerFunc(func(context.Context, events.Event) error {
		completed.Add(1)
		return nil
	}))

	r := New(store, svc, bus, logger.Discard(), Options{RunOnStart: true})
	ticker := &manualTicker{ch: make(chan time.Time, 1)}
	r.tickerFactory = func(time.Duration) passTicker { return ticker }

	seed(t, store, "first", "Water", "")
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()
	waitFor(t, 2*time.Second, func() bool { return r.Stats().CompletedPasses == 1 })

	seed(t, store, "second", "Water", "")
	ticker.ch <- time.Now()
	waitFor(t, 2*time.Second, func() bool { return r.Stats().CompletedPasses == 2 })

	last := r.Stats().LastPass
	if last == nil || last.Trigger != TriggerTimer || last.ServiceRouted != 1 {
		t.Fatalf("unexpected last pass: %+v", last)
	}
	bus.Wait()
	if completed.Load() != 2 {
		t.Fatalf("expected 2 pass events, got %d", completed.Load())
	}
}

// cancellingAssigner cancels the pass after the first routed visitor.
type cancellingAssigner struct {
	*assignsvc.Service
	cancel context.CancelFunc
}

func (a *cancellingAssigner) RouteByCategory(ctx context.Context, v *domain.Visitor) (assignsvc.Result, error) {
	res, err := a.Service.RouteByCategory(ctx, v)
	a.cancel()
	return res, err
}

func TestCancelledContextStopsPassEarly(t *testing.T) {
	store := repository.NewMemoryStore()
	a := newExec("Asha", "", 0)
	svc := assignsvc.New(store, mapDirectory{taxonomy.Water: {a.ID}}, executives.NewMemory(a), nil, logger.Discard())
	for i := 0; i < 3; i++ {
		seed(t, store, fmt.Sprintf("v%d", i), "Water", "")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := New(store, &cancellingAssigner{Service: svc, cancel: cancel}, nil, logger.Discard(), Options{})
	report, err := r.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.ServiceRouted != 1 || report.Examined != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestDistributedLockSkipsWhenHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := repository.NewMemoryStore()
	a := newExec("Asha", "", 0)
	svc := assignsvc.New(store, mapDirectory{taxonomy.Water: {a.ID}}, executives.NewMemory(a), nil, logger.Discard())
	seed(t, store, "v", "Water", "")

	lock := redislock.New(client, "leadflow:assignment:pass", time.Minute)
	r := New(store, svc, nil, logger.Discard(), Options{Locker: lock})

	otherProcess := redislock.New(client, "leadflow:assignment:pass", time.Minute)
	release, ok, err := otherProcess.TryLock(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected to take the lock, ok=%v err=%v", ok, err)
	}

	if _, err := r.RunOnce(context.Background()); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("expected ErrPassInProgress while another process holds the lock, got %v", err)
	}
	if err := release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}

	report, err := r.RunOnce(context.Background())
	if err != nil || report.ServiceRouted != 1 {
		t.Fatalf("expected a pass after release, got %+v err=%v", report, err)
	}
	if mr.Exists("leadflow:assignment:pass") {
		t.Fatalf("lock must be released after the pass")
	}
	if r.Stats().SkippedPasses != 1 {
		t.Fatalf("expected one skipped pass")
	}
}

func TestUnmatchedRegionsDoNotHideNewerVisitors(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	water := newExec("Wanjiru", "", 0)
	svc := assignsvc.New(store, mapDirectory{taxonomy.Water: {water.ID}}, executives.NewMemory(water), nil, logger.Discard())
	r := New(store, svc, nil, logger.Discard(), Options{BatchSize: 2})

	seed(t, store, "atlantis-1", "Water", "Atlantis")
	seed(t, store, "atlantis-2", "Water", "Atlantis")
	if _, err := r.RunOnce(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	fresh := seed(t, store, "fresh", "Water", "")
	report, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if report.Examined != 3 || report.Pages != 2 || report.RegionUnmatched != 2 || report.ServiceRouted != 1 || report.Truncated {
		t.Fatalf("unexpected report: %+v", report)
	}
	stored, _ := store.GetByID(ctx, fresh.ID)
	if stored.AssignedAgentID == nil || *stored.AssignedAgentID != water.ID {
		t.Fatalf("visitor behind a full page of unmatched regions was not assigned")
	}
}

func TestTruncatedPassResumesWhereItStopped(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	water := newExec("Wanjiru", "", 0)
	svc := assignsvc.New(store, mapDirectory{taxonomy.Water: {water.ID}}, executives.NewMemory(water), nil, logger.Discard())
	r := New(store, svc, nil, logger.Discard(), Options{BatchSize: 2, MaxPerPass: 2})

	seed(t, store, "atlantis-1", "Water", "Atlantis")
	seed(t, store, "atlantis-2", "Water", "Atlantis")
	capped, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("capped pass: %v", err)
	}
	if capped.Examined != 2 || !capped.Truncated || capped.ServiceRouted != 2 {
		t.Fatalf("expected a truncated pass over the first visitors, got %+v", capped)
	}

	fresh := seed(t, store, "fresh", "Water", "")
	resumed, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("resumed pass: %v", err)
	}
	if resumed.ServiceRouted != 1 || resumed.Examined != 2 || resumed.RegionUnmatched != 1 {
		t.Fatalf("resumed pass should reach the fresh visitor first, got %+v", resumed)
	}
	stored, _ := store.GetByID(ctx, fresh.ID)
	if stored.AssignedAgentID == nil {
		t.Fatalf("fresh visitor never assigned")
	}
	if stats := r.Stats(); stats.MaxPerPass != 2 || stats.BatchSize != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestLoopEndingWithParentContextAllowsRestart(t *testing.T) {
	store := repository.NewMemoryStore()
	r, _ := newTestReconciler(store, mapDirectory{})
	r.tickerFactory = func(time.Duration) passTicker { return &manualTicker{ch: make(chan time.Time)} }

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	waitFor(t, 2*time.Second, func() bool { return !r.Stats().Running })

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("restart after parent context ended: %v", err)
	}
	if !r.Running() {
		t.Fatalf("expected loop running after restart")
	}
	r.Stop()
	if r.Running() {
		t.Fatalf("expected loop stopped")
	}
}
