package ports

import (
	"context"
	"errors"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
)

// ErrNoIdentity is returned by SessionProvider when no usable upstream token
// or client id is configured. It is a precondition failure, never retried.
var ErrNoIdentity = errors.New("no upstream identity available")

// FeedClient supervises one streaming subscription to an upstream topic.
// Connect is idempotent: calling it while a connection is live tears the old
// one down first. After Disconnect returns, neither callback fires again.
type FeedClient interface {
	Connect(ctx context.Context, topic string, onMessage func(topic string, payload []byte), onState func(domain.FeedStatus))
	Disconnect()
	Status() domain.FeedStatus
}

// SnapshotSource fetches one-shot authoritative state from the upstream REST API.
type SnapshotSource interface {
	RiderLocations(ctx context.Context) ([]domain.Rider, error)
	PendingOrders(ctx context.Context) ([]domain.PendingOrder, error)
}

// OrderActions forwards accept/reject decisions upstream. A nil error means
// the upstream confirmed with a 2xx.
type OrderActions interface {
	Accept(ctx context.Context, orderID string) error
	Reject(ctx context.Context, orderID string) error
}

// SessionProvider resolves the upstream identity. ErrNoIdentity-style errors
// route features straight to REST fallback (or an empty state).
type SessionProvider interface {
	Identity() (domain.Session, error)
}

// EventPublisher fans reconciled deltas out to dashboard subscribers.
type EventPublisher interface {
	PublishRiderUpdate(ctx context.Context, rider *domain.Rider) error
	PublishRiderRemoved(ctx context.Context, riderID string) error
	PublishOrderUpdate(ctx context.Context, order *domain.PendingOrder) error
	PublishOrderRemoved(ctx context.Context, orderID string) error
}

// CacheService provides small persisted preferences and degraded-mode state.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
