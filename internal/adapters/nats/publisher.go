package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nimbuspos/dispatchboard/internal/core/domain"
)

// Subjects carrying reconciled deltas to dashboard relays. Rider traffic is
// ephemeral and goes over core NATS; order traffic is retained briefly on a
// JetStream stream so a reconnecting relay can catch up.
const (
	SubjectRiderUpdated = "dispatch.riders.updated."
	SubjectRiderRemoved = "dispatch.riders.removed."
	SubjectOrderUpdated = "dispatch.orders.updated."
	SubjectOrderRemoved = "dispatch.orders.removed."
)

// Publisher implements ports.EventPublisher on NATS.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and ensures the order stream exists.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	// Limits retention: the relays subscribe over core NATS, so nothing
	// holds interest on the stream. Age alone bounds it.
	cfg := nats.StreamConfig{
		Name:      "DISPATCH_ORDERS",
		Subjects:  []string{"dispatch.orders.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    1 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist — try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

func (p *Publisher) PublishRiderUpdate(ctx context.Context, rider *domain.Rider) error {
	data, err := json.Marshal(rider)
	if err != nil {
		return err
	}
	return p.conn.Publish(SubjectRiderUpdated+rider.ID, data)
}

func (p *Publisher) PublishRiderRemoved(ctx context.Context, riderID string) error {
	return p.conn.Publish(SubjectRiderRemoved+riderID, []byte(riderID))
}

func (p *Publisher) PublishOrderUpdate(ctx context.Context, order *domain.PendingOrder) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectOrderUpdated+order.ID, data)
	return err
}

func (p *Publisher) PublishOrderRemoved(ctx context.Context, orderID string) error {
	_, err := p.js.Publish(SubjectOrderRemoved+orderID, []byte(orderID))
	return err
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (the WebSocket
// relay holds its own).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
