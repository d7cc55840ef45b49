package scheduler

import (
	"context"
	"fmt"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"
)

// VisitorDispatcher enqueues an assignment task for every new visitor so
// enquiries are routed without waiting for the next tick. The periodic pass
// still picks up anything the task misses.
type VisitorDispatcher struct {
	enqueuer Enqueuer
	log      *logger.Logger
}

func NewVisitorDispatcher(enqueuer Enqueuer, log *logger.Logger) *VisitorDispatcher {
	if log == nil {
		log = logger.Discard()
	}
	return &VisitorDispatcher{enqueuer: enqueuer, log: log}
}

// Subscribe registers the dispatcher on bus.
func (d *VisitorDispatcher) Subscribe(bus events.Bus) {
	bus.Subscribe(events.NameVisitorCreated, d)
}

func (d *VisitorDispatcher) Handle(ctx context.Context, event events.Event) error {
	created, ok := event.(events.VisitorCreated)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}
	if err := d.enqueuer.EnqueueAssignVisitor(ctx, created.VisitorID); err != nil {
		d.log.Warn("enqueue visitor assignment failed", "visitorId", created.VisitorID, "error", err)
		return err
	}
	return nil
}

var _ events.Handler = (*VisitorDispatcher)(nil)
