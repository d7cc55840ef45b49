// Package broker publishes event envelopes to external message brokers.
// This is part of the platform layer and contains no business logic.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Meta carries transport-level identifiers for one message.
type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	OccurredAt    time.Time `json:"occurredAt"`
	CorrelationID *string   `json:"correlationId,omitempty"`
}

// Envelope wraps a JSON payload with its metadata.
type Envelope struct {
	Meta    Meta            `json:"meta"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload and stamps a fresh message id.
func NewEnvelope(eventType, source string, occurredAt time.Time, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			Type:       eventType,
			Source:     source,
			OccurredAt: occurredAt.UTC(),
		},
		Payload: data,
	}, nil
}

// Publisher delivers envelopes. key is the routing key (AMQP) or the
// partition key (Kafka).
type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

// Fanout publishes to every publisher and joins the failures.
type Fanout []Publisher

// Publish sends msg to all publishers.
func (f Fanout) Publish(ctx context.Context, key string, msg Envelope) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, key, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all publishers.
func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
