package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
)

// ListRidersHandler returns the reconciled rider collection, newest-seen
// first. ?positioned=true restricts it to riders with a known location.
func ListRidersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var riders []domain.Rider
		if c.QueryBool("positioned", false) {
			riders = deps.Tracker.Positioned()
		} else {
			riders = deps.Tracker.Riders()
		}

		offset, limit := pageParams(c)

		total := len(riders)
		if offset >= total {
			riders = nil
		} else {
			end := offset + limit
			if end > total {
				end = total
			}
			riders = riders[offset:end]
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: riders, Pagination: pg})
	}
}

// GetRiderHandler returns one rider by id.
func GetRiderHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "rider id is required")
		}

		rider, ok := deps.Tracker.Rider(id)
		if !ok {
			return errNotFound(c, "rider not found: "+id)
		}
		return c.JSON(rider)
	}
}

// RiderHistoryHandler returns the persisted location trail for one rider.
// ?since is RFC 3339 and defaults to one hour ago.
func RiderHistoryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "rider id is required")
		}

		since := time.Now().Add(-1 * time.Hour)
		if raw := c.Query("since"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return errBadRequest(c, "since must be RFC 3339, e.g. 2026-01-02T15:04:05Z")
			}
			since = t
		}

		limit := c.QueryInt("limit", 500)
		records, err := deps.Tracker.History(c.Context(), id, since, limit)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{
			"rider_id": id,
			"since":    since.UTC(),
			"points":   records,
		})
	}
}

// PendingOrdersHandler returns the orders awaiting a decision, newest first.
func PendingOrdersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		pending := deps.Orders.Pending()
		return c.JSON(fiber.Map{
			"count":  len(pending),
			"orders": pending,
		})
	}
}

// OrderEventsHandler returns the audited accept/reject trail.
func OrderEventsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		events, err := deps.Orders.RecentEvents(c.Context(), limit)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{"events": events})
	}
}

// AlertStateHandler returns the order-cue state the dashboard renders.
func AlertStateHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(deps.Orders.Alert())
	}
}

// MuteAlertHandler flips and persists the cue mute flag.
func MuteAlertHandler(deps *Dependencies) fiber.Handler {
	type muteRequest struct {
		Muted bool `json:"muted"`
	}
	return func(c *fiber.Ctx) error {
		var req muteRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "body must be JSON: {\"muted\": true|false}")
		}
		if err := deps.Orders.SetMuted(c.Context(), req.Muted); err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(deps.Orders.Alert())
	}
}

// MarkInteractionHandler records a user gesture, unlocking the audio cue.
func MarkInteractionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		deps.Orders.MarkInteraction()
		return c.JSON(deps.Orders.Alert())
	}
}

// AcceptOrderHandler forwards an accept decision upstream. The order drops
// from the pending set before the upstream answers and is reinstated on
// failure, so a 502 here means the dashboard state already rolled back.
func AcceptOrderHandler(deps *Dependencies) fiber.Handler {
	return decisionHandler(deps, func(c *fiber.Ctx, id string) error {
		return deps.Orders.Accept(c.Context(), id)
	})
}

// RejectOrderHandler forwards a reject decision upstream.
func RejectOrderHandler(deps *Dependencies) fiber.Handler {
	return decisionHandler(deps, func(c *fiber.Ctx, id string) error {
		return deps.Orders.Reject(c.Context(), id)
	})
}

func decisionHandler(deps *Dependencies, decide func(*fiber.Ctx, string) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "order id is required")
		}
		if _, ok := deps.Orders.Order(id); !ok {
			return errNotFound(c, "order not in pending set: "+id)
		}
		if err := decide(c, id); err != nil {
			return errUpstream(c, err.Error())
		}
		return c.JSON(fiber.Map{
			"order_id": id,
			"alert":    deps.Orders.Alert(),
		})
	}
}

// FeedStatusHandler reports the connection state of both upstream streams.
func FeedStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"locations": deps.Tracker.FeedStatus(),
			"orders":    deps.Orders.FeedStatus(),
		})
	}
}

// FeedRefreshHandler is the manual recovery action: re-snapshot both
// features and retry their streams once. The restarted streams must outlive
// this request, so they get a background context, not the request's.
func FeedRefreshHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result := fiber.Map{"locations": "ok", "orders": "ok"}
		failed := false

		ctx := context.Background()
		if err := deps.Tracker.Refresh(ctx); err != nil {
			result["locations"] = err.Error()
			failed = true
		}
		if err := deps.Orders.Refresh(ctx); err != nil {
			result["orders"] = err.Error()
			failed = true
		}

		if failed {
			return c.Status(502).JSON(result)
		}
		return c.JSON(result)
	}
}
