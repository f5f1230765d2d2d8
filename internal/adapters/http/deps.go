package http

import (
	"github.com/nats-io/nats.go"

	"github.com/nimbuspos/dispatchboard/internal/adapters/postgres"
	"github.com/nimbuspos/dispatchboard/internal/adapters/valkey"
	"github.com/nimbuspos/dispatchboard/internal/core/usecases"
	"github.com/nimbuspos/dispatchboard/internal/pkg/config"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Tracker  *usecases.TrackerService
	Orders   *usecases.OrderFeedService
	Tracking config.TrackingConfig
	NATS     *nats.Conn
	DB       *postgres.DB
	Cache    *valkey.Cache
}
