package http

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	natsadapter "github.com/nimbuspos/dispatchboard/internal/adapters/nats"
	"github.com/nimbuspos/dispatchboard/internal/core/domain"
	"github.com/nimbuspos/dispatchboard/internal/core/usecases"
	"github.com/nimbuspos/dispatchboard/internal/pkg/metrics"
)

// wsCommand is sent from the dashboard to drive its view session.
type wsCommand struct {
	Action  string `json:"action"`   // "focus" | "show_all" | "toggle_layer" | "interaction"
	RiderID string `json:"rider_id"` // required for "focus"
}

// wsEvent is the envelope for everything the relay pushes to the dashboard.
type wsEvent struct {
	Type    string                 `json:"type"`
	Markers []usecases.MarkerFrame `json:"markers,omitempty"`
	Camera  *usecases.Camera       `json:"camera,omitempty"`
	Layer   string                 `json:"layer,omitempty"`
	Order   *domain.PendingOrder   `json:"order,omitempty"`
	OrderID string                 `json:"order_id,omitempty"`
	Alert   *domain.AlertState     `json:"alert,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// WebSocketHandler runs one dashboard view session: a MapView fed from the
// NATS delta subjects, advanced on a fixed frame ticker, plus the pending
// order stream. Each connection owns its own view, so focus and layer
// choices never leak across dashboards.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		sessionID := uuid.NewString()
		log := slog.Default().With("session", sessionID)
		log.Info("view session opened", "remote", c.RemoteAddr().String())

		metrics.ActiveViewSessions.Inc()
		defer metrics.ActiveViewSessions.Dec()

		view := usecases.NewMapView(usecases.ViewConfig{
			AnimationDuration: time.Duration(deps.Tracking.AnimationMs) * time.Millisecond,
			SnapThresholdM:    deps.Tracking.SnapThresholdM,
			FocusZoom:         deps.Tracking.FocusZoom,
		})
		defer view.Close()

		var mu sync.Mutex
		writeJSON := func(v wsEvent) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		snapshot := func() {
			cam := view.Camera()
			_ = writeJSON(wsEvent{
				Type:    "snapshot",
				Markers: view.Frames(),
				Camera:  &cam,
				Layer:   view.BaseLayer(),
			})
		}

		// Seed from the reconciled collection, then live off the deltas.
		view.Sync(deps.Tracker.Riders(), time.Now())
		snapshot()
		alert := deps.Orders.Alert()
		_ = writeJSON(wsEvent{Type: "alert", Alert: &alert})

		var subs []*nats.Subscription
		subscribe := func(subject string, h nats.MsgHandler) bool {
			sub, err := deps.NATS.Subscribe(subject, h)
			if err != nil {
				log.Error("subscribe failed", "subject", subject, "error", err)
				_ = writeJSON(wsEvent{Type: "error", Error: "live updates unavailable"})
				return false
			}
			subs = append(subs, sub)
			return true
		}
		defer func() {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
		}()

		ok := subscribe(natsadapter.SubjectRiderUpdated+"*", func(msg *nats.Msg) {
			var rider domain.Rider
			if err := json.Unmarshal(msg.Data, &rider); err != nil {
				log.Warn("bad rider delta", "error", err)
				return
			}
			view.Apply(rider, time.Now())
			// Snaps and fresh markers have no animation; the frame ticker
			// would skip them, so push the full picture now.
			if !view.HasAnimation(rider.ID) {
				snapshot()
			}
		})
		ok = ok && subscribe(natsadapter.SubjectRiderRemoved+"*", func(msg *nats.Msg) {
			view.Remove(string(msg.Data))
			snapshot()
		})
		ok = ok && subscribe(natsadapter.SubjectOrderUpdated+"*", func(msg *nats.Msg) {
			var order domain.PendingOrder
			if err := json.Unmarshal(msg.Data, &order); err != nil {
				log.Warn("bad order delta", "error", err)
				return
			}
			alert := deps.Orders.Alert()
			_ = writeJSON(wsEvent{Type: "order", Order: &order, Alert: &alert})
		})
		ok = ok && subscribe(natsadapter.SubjectOrderRemoved+"*", func(msg *nats.Msg) {
			alert := deps.Orders.Alert()
			_ = writeJSON(wsEvent{Type: "order_removed", OrderID: string(msg.Data), Alert: &alert})
		})
		if !ok {
			return
		}

		done := make(chan struct{})
		defer close(done)

		// Animation frames
		frameInterval := time.Duration(deps.Tracking.FrameIntervalMs) * time.Millisecond
		if frameInterval <= 0 {
			frameInterval = 100 * time.Millisecond
		}
		go func() {
			ticker := time.NewTicker(frameInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					frames := view.Advance(time.Now())
					if len(frames) == 0 {
						continue
					}
					cam := view.Camera()
					if err := writeJSON(wsEvent{Type: "frames", Markers: frames, Camera: &cam}); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		// Keep-alive ping
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		// Read client commands
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}

			var cmd wsCommand
			if err := json.Unmarshal(msg, &cmd); err != nil {
				_ = writeJSON(wsEvent{Type: "error", Error: "invalid JSON"})
				continue
			}

			switch cmd.Action {
			case "focus":
				if cmd.RiderID == "" {
					_ = writeJSON(wsEvent{Type: "error", Error: "focus requires rider_id"})
					continue
				}
				if err := view.Focus(cmd.RiderID); err != nil {
					_ = writeJSON(wsEvent{Type: "error", Error: err.Error()})
					continue
				}
				snapshot()

			case "show_all":
				view.ShowAll()
				snapshot()

			case "toggle_layer":
				layer := view.ToggleBaseLayer()
				_ = writeJSON(wsEvent{Type: "layer", Layer: layer})

			case "interaction":
				// First user gesture on the page unlocks the audio cue.
				deps.Orders.MarkInteraction()
				alert := deps.Orders.Alert()
				_ = writeJSON(wsEvent{Type: "alert", Alert: &alert})

			default:
				_ = writeJSON(wsEvent{Type: "error", Error: "unknown action: " + cmd.Action})
			}
		}

		log.Info("view session closed")
	}
}
