package domain

import (
	"time"
)

// RiderStatus enumerates the dispatch states a rider can be in.
type RiderStatus string

const (
	RiderIdle       RiderStatus = "IDLE"
	RiderOnJob      RiderStatus = "ON_JOB"
	RiderOffline    RiderStatus = "OFFLINE"
	RiderOnBreak    RiderStatus = "ON_BREAK"
	RiderAssigned   RiderStatus = "ASSIGNED"
	RiderDispatched RiderStatus = "DISPATCHED"
)

// Rider is a tracked delivery rider. Position may be nil for a rider that has
// never reported a location; such riders appear in list views but are never
// rendered on the map.
type Rider struct {
	ID        string      `json:"rider_id"`
	Name      string      `json:"rider_name"`
	Phone     string      `json:"rider_phone,omitempty"`
	Position  *GeoPoint   `json:"position,omitempty"`
	Heading   float64     `json:"heading"` // degrees, [0, 360)
	Speed     float64     `json:"speed"`   // m/s, non-negative
	Status    RiderStatus `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Key implements the reconciler key.
func (r Rider) Key() string { return r.ID }

// LocationUpdate is one streamed position report for a rider. It carries a
// subset of Rider fields; absent fields keep their previous values on merge.
type LocationUpdate struct {
	RiderID   string      `json:"riderId"`
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	Bearing   float64     `json:"bearing"`
	Speed     float64     `json:"speed"`
	Status    RiderStatus `json:"status,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrderStatus enumerates the order states the dashboard cares about.
// Terminal fulfilment states exist upstream but never reach the pending feed.
type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderAccepted OrderStatus = "ACCEPTED"
	OrderRejected OrderStatus = "REJECTED"
)

// OrderItem is one line on an order.
type OrderItem struct {
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	LineTotal float64 `json:"line_total"`
	Discount  float64 `json:"discount"` // rate, 0..1
}

// PendingOrder is an order awaiting an accept/reject decision.
type PendingOrder struct {
	ID            string      `json:"id"`
	OrderNumber   string      `json:"order_number"`
	CustomerName  string      `json:"customer_name"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	Status        OrderStatus `json:"status"`
	Total         float64     `json:"total"`
	Items         []OrderItem `json:"items,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Key implements the reconciler key.
func (o PendingOrder) Key() string { return o.ID }

// Session is the identity used against the upstream platform.
type Session struct {
	Token    string
	ClientID string
}

// AlertState is the order-cue state the frontend renders. Active is computed
// server-side: pending orders exist, the operator has not muted the cue, and
// a user gesture has been observed (browsers refuse unsolicited audio).
type AlertState struct {
	Active          bool `json:"active"`
	Muted           bool `json:"muted"`
	InteractionSeen bool `json:"interaction_seen"`
	PendingCount    int  `json:"pending_count"`
}

// OrderEvent is one audited accept/reject decision.
type OrderEvent struct {
	OrderID   string    `json:"order_id"`
	Action    string    `json:"action"` // "accept" | "reject"
	Outcome   string    `json:"outcome"`
	LatencyMs int64     `json:"latency_ms"`
	At        time.Time `json:"at"`
}

// RiderLocationRecord is one persisted location history row.
type RiderLocationRecord struct {
	Time     time.Time   `json:"time"`
	RiderID  string      `json:"rider_id"`
	Location GeoPoint    `json:"location"`
	Heading  float64     `json:"heading"`
	Speed    float64     `json:"speed"`
	Status   RiderStatus `json:"status"`
}
