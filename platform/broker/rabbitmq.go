package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitPublisher publishes to a durable topic exchange with publisher
// confirms enabled.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	exchange string
	log      *logger.Logger
}

// NewRabbitPublisher dials url and declares exchange.
func NewRabbitPublisher(url, exchange string, log *logger.Logger) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	if log == nil {
		log = logger.Discard()
	}
	return &RabbitPublisher{conn: conn, exchange: exchange, log: log}, nil
}

// Publish sends msg with routing key key and waits for the broker confirm.
func (r *RabbitPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	msgID := msg.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := msgID
	if msg.Meta.CorrelationID != nil {
		cid = *msg.Meta.CorrelationID
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, r.exchange, key, false, false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     msgID,
			CorrelationId: cid,
			Type:          msg.Meta.Type,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("broker nacked message %s", msgID)
	}

	r.log.Debug("published", "exchange", r.exchange, "key", key, "messageId", msgID)
	return nil
}

// Close closes the connection.
func (r *RabbitPublisher) Close() error {
	return r.conn.Close()
}

var _ Publisher = (*RabbitPublisher)(nil)
