package ports

import (
	"context"
	"time"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
)

// RiderLocationRepository persists the rider location history trail.
type RiderLocationRepository interface {
	Insert(ctx context.Context, rec *domain.RiderLocationRecord) error
	History(ctx context.Context, riderID string, since time.Time, limit int) ([]domain.RiderLocationRecord, error)
}

// OrderEventRepository persists the accept/reject audit trail.
type OrderEventRepository interface {
	Insert(ctx context.Context, ev *domain.OrderEvent) error
	Recent(ctx context.Context, limit int) ([]domain.OrderEvent, error)
}
