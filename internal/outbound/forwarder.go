// Package outbound relays domain events to external message brokers so
// notification services outside this process can react to them.
package outbound

import (
	"context"
	"fmt"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/broker"
	"leadflow_backend/platform/logger"
)

// Source is stamped on every envelope leaving this service.
const Source = "leadflow"

// Forwarder subscribes to every domain event and publishes it wrapped in a
// broker envelope. The aggregate key becomes the routing or partition key.
type Forwarder struct {
	publisher broker.Publisher
	log       *logger.Logger
}

// NewForwarder creates a forwarder over publisher.
func NewForwarder(publisher broker.Publisher, log *logger.Logger) *Forwarder {
	if log == nil {
		log = logger.Discard()
	}
	return &Forwarder{publisher: publisher, log: log.WithComponent("outbound")}
}

// Subscribe registers the forwarder for all domain events on bus.
func (f *Forwarder) Subscribe(bus events.Bus) {
	for _, name := range events.Names() {
		bus.Subscribe(name, f)
	}
}

// Handle publishes a single event.
func (f *Forwarder) Handle(ctx context.Context, event events.Event) error {
	msg, err := broker.NewEnvelope(event.EventName(), Source, event.OccurredAt(), event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventName(), err)
	}

	key := event.EventName()
	if keyed, ok := event.(events.Keyed); ok && keyed.AggregateKey() != "" {
		key = keyed.AggregateKey()
	}

	if err := f.publisher.Publish(ctx, key, msg); err != nil {
		f.log.Warn("forward event failed", "event", event.EventName(), "key", key, "error", err)
		return err
	}
	return nil
}

// Close releases the underlying publishers.
func (f *Forwarder) Close() error {
	return f.publisher.Close()
}

var _ events.Handler = (*Forwarder)(nil)
