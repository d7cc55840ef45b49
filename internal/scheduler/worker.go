package scheduler

import (
	"context"
	"errors"
	"fmt"

	assigntransport "leadflow_backend/internal/assignment/transport"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// VisitorAssigner assigns a single visitor by id.
type VisitorAssigner interface {
	AssignNext(ctx context.Context, visitorID uuid.UUID) (assigntransport.AssignResponse, error)
	AssignNextByRegion(ctx context.Context, visitorID uuid.UUID) (assigntransport.AssignResponse, error)
}

type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	reconciler *Reconciler
	assigner   VisitorAssigner
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, reconciler *Reconciler, assigner VisitorAssigner, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	w := newWorker(reconciler, assigner, log)
	w.server = server
	return w, nil
}

func newWorker(reconciler *Reconciler, assigner VisitorAssigner, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Discard()
	}
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:        mux,
		reconciler: reconciler,
		assigner:   assigner,
		log:        log.WithComponent("scheduler-worker"),
	}

	mux.HandleFunc(TaskReconcile, w.handleReconcile)
	mux.HandleFunc(TaskAssignVisitor, w.handleAssignVisitor)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleReconcile(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseReconcilePayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	report, err := w.reconciler.Run(ctx, TriggerTask)
	if errors.Is(err, ErrPassInProgress) {
		w.log.Info("reconcile task merged into running pass", "requestedBy", payload.RequestedBy)
		return nil
	}
	if err != nil {
		return err
	}
	w.log.Debug("reconcile task done", "requestedBy", payload.RequestedBy, "examined", report.Examined)
	return nil
}

func (w *Worker) handleAssignVisitor(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAssignVisitorPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	visitorID, err := uuid.Parse(payload.VisitorID)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if _, err := w.assigner.AssignNext(ctx, visitorID); err != nil {
		if retry := w.settle(visitorID, "service", err); retry != nil {
			return retry
		}
	}
	if _, err := w.assigner.AssignNextByRegion(ctx, visitorID); err != nil {
		if retry := w.settle(visitorID, "region", err); retry != nil {
			return retry
		}
	}
	return nil
}

// settle decides whether a failed assignment is worth retrying. Outcomes
// the next reconciliation pass handles anyway are logged and dropped.
func (w *Worker) settle(visitorID uuid.UUID, kind string, err error) error {
	switch apperr.GetKind(err) {
	case apperr.KindNotFound:
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case apperr.KindConflict, apperr.KindValidation:
		w.log.Debug("visitor left for reconciliation", "visitorId", visitorID, "kind", kind, "reason", err.Error())
		return nil
	default:
		return err
	}
}
