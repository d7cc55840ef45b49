package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	assigntransport "leadflow_backend/internal/assignment/transport"
	assignsvc "leadflow_backend/internal/assignment/service"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/executives"
	"leadflow_backend/internal/taxonomy"
	"leadflow_backend/internal/visitors/repository"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type stubAssigner struct {
	mu        sync.Mutex
	serviceErr error
	regionErr  error
	calls      []string
}

func (s *stubAssigner) AssignNext(_ context.Context, _ uuid.UUID) (assigntransport.AssignResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "service")
	return assigntransport.AssignResponse{}, s.serviceErr
}

func (s *stubAssigner) AssignNextByRegion(_ context.Context, _ uuid.UUID) (assigntransport.AssignResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "region")
	return assigntransport.AssignResponse{}, s.regionErr
}

func assignTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	task, err := NewAssignVisitorTask(AssignVisitorPayload{VisitorID: id})
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	return task
}

func TestAssignVisitorTaskSettlesExpectedOutcomes(t *testing.T) {
	cases := []struct {
		name       string
		serviceErr error
		regionErr  error
		wantErr    bool
		skipRetry  bool
		wantCalls  int
	}{
		{"both routed", nil, nil, false, false, 2},
		{"no executive and no region", apperr.Conflict("none"), apperr.Validation("no region"), false, false, 2},
		{"visitor gone", apperr.NotFound("visitor not found"), nil, true, true, 1},
		{"store down", apperr.Unavailable("down"), nil, true, false, 1},
		{"region store down", nil, apperr.Unavailable("down"), true, false, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubAssigner{serviceErr: tc.serviceErr, regionErr: tc.regionErr}
			w := newWorker(nil, stub, logger.Discard())

			err := w.handleAssignVisitor(context.Background(), assignTask(t, uuid.NewString()))
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if errors.Is(err, asynq.SkipRetry) != tc.skipRetry {
				t.Fatalf("skip retry mismatch: %v", err)
			}
			if len(stub.calls) != tc.wantCalls {
				t.Fatalf("expected %d calls, got %v", tc.wantCalls, stub.calls)
			}
		})
	}
}

func TestAssignVisitorTaskRejectsBadPayload(t *testing.T) {
	w := newWorker(nil, &stubAssigner{}, logger.Discard())
	err := w.handleAssignVisitor(context.Background(), assignTask(t, "not-a-uuid"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestReconcileTaskMergesIntoRunningPass(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := assignsvc.New(store, mapDirectory{}, executives.NewMemory(), nil, logger.Discard())
	r := New(store, svc, nil, logger.Discard(), Options{})
	w := newWorker(r, svc, logger.Discard())

	task, err := NewReconcileTask(ReconcilePayload{RequestedBy: "ops"})
	if err != nil {
		t.Fatalf("task: %v", err)
	}

	r.inFlight.Store(true)
	if err := w.handleReconcile(context.Background(), task); err != nil {
		t.Fatalf("expected merged task to succeed, got %v", err)
	}
	r.inFlight.Store(false)

	if err := w.handleReconcile(context.Background(), task); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	stats := r.Stats()
	if stats.CompletedPasses != 1 || stats.SkippedPasses != 1 || stats.LastPass.Trigger != TriggerTask {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	visitors []uuid.UUID
	runs     []string
	err      error
}

func (e *recordingEnqueuer) EnqueueReconcile(_ context.Context, requestedBy string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs = append(e.runs, requestedBy)
	return "task-1", e.err
}

func (e *recordingEnqueuer) EnqueueAssignVisitor(_ context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.visitors = append(e.visitors, id)
	return e.err
}

func TestVisitorDispatcherEnqueuesAssignment(t *testing.T) {
	bus := events.NewInMemoryBus(logger.Discard())
	enq := &recordingEnqueuer{}
	NewVisitorDispatcher(enq, logger.Discard()).Subscribe(bus)

	id := uuid.New()
	err := bus.PublishSync(context.Background(), events.VisitorCreated{
		BaseEvent: events.NewBaseEvent(),
		VisitorID: id,
		Category:  string(taxonomy.Water),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(enq.visitors) != 1 || enq.visitors[0] != id {
		t.Fatalf("expected visitor enqueued, got %v", enq.visitors)
	}
}

func newAdminRouter(control Control) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	group := engine.Group("/scheduler", func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, uuid.New())
		c.Set(httpkit.ContextNameKey, "admin@example.com")
		c.Next()
	})
	NewHandler(control).RegisterRoutes(group)
	return engine
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestAdminRoutesDriveEmbeddedReconciler(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := assignsvc.New(store, mapDirectory{}, executives.NewMemory(), nil, logger.Discard())
	r := New(store, svc, nil, logger.Discard(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := newAdminRouter(NewLocalControl(ctx, r))

	rec := serve(engine, http.MethodPost, "/scheduler/run")
	if rec.Code != http.StatusOK {
		t.Fatalf("run: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var result TriggerResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Mode != ModeInline || result.Report == nil || result.Report.Trigger != TriggerManual {
		t.Fatalf("unexpected trigger result: %+v", result)
	}

	if rec := serve(engine, http.MethodPost, "/scheduler/start"); rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", rec.Code)
	}
	defer r.Stop()
	if rec := serve(engine, http.MethodPost, "/scheduler/start"); rec.Code != http.StatusConflict {
		t.Fatalf("second start: expected 409, got %d", rec.Code)
	}

	rec = serve(engine, http.MethodPost, "/scheduler/stop")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}
	var stats Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Running || stats.CompletedPasses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	r.inFlight.Store(true)
	if rec := serve(engine, http.MethodPost, "/scheduler/run"); rec.Code != http.StatusConflict {
		t.Fatalf("overlapping run: expected 409, got %d", rec.Code)
	}
	r.inFlight.Store(false)
}

func TestAdminRoutesEnqueueWhenRemote(t *testing.T) {
	enq := &recordingEnqueuer{}
	engine := newAdminRouter(NewRemoteControl(enq))

	rec := serve(engine, http.MethodPost, "/scheduler/run")
	if rec.Code != http.StatusOK {
		t.Fatalf("run: expected 200, got %d", rec.Code)
	}
	var result TriggerResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Mode != ModeEnqueued || result.TaskID != "task-1" || len(enq.runs) != 1 || enq.runs[0] != "admin@example.com" {
		t.Fatalf("unexpected remote trigger: %+v runs=%v", result, enq.runs)
	}

	if rec := serve(engine, http.MethodGet, "/scheduler/stats"); rec.Code != http.StatusConflict {
		t.Fatalf("stats: expected 409 in remote mode, got %d", rec.Code)
	}
	if rec := serve(engine, http.MethodPost, "/scheduler/stop"); rec.Code != http.StatusConflict {
		t.Fatalf("stop: expected 409 in remote mode, got %d", rec.Code)
	}
}
