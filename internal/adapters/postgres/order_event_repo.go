package postgres

import (
	"context"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
)

// OrderEventRepo implements ports.OrderEventRepository.
type OrderEventRepo struct {
	db *DB
}

func NewOrderEventRepo(db *DB) *OrderEventRepo {
	return &OrderEventRepo{db: db}
}

func (r *OrderEventRepo) Insert(ctx context.Context, ev *domain.OrderEvent) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO order_events (at, order_id, action, outcome, latency_ms)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.At, ev.OrderID, ev.Action, ev.Outcome, ev.LatencyMs)
	return err
}

func (r *OrderEventRepo) Recent(ctx context.Context, limit int) ([]domain.OrderEvent, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT at, order_id, action, outcome, latency_ms
		FROM order_events
		ORDER BY at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.OrderEvent
	for rows.Next() {
		var ev domain.OrderEvent
		if err := rows.Scan(&ev.At, &ev.OrderID, &ev.Action, &ev.Outcome, &ev.LatencyMs); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
