package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
	"github.com/nimbuspos/dispatchboard/internal/core/ports"
	"github.com/nimbuspos/dispatchboard/internal/pkg/metrics"
)

const mutePrefKeyPrefix = "prefs:orders:muted:"

// OrderFeedService is the pending-orders specialization of the feed+reconciler
// pair: no spatial rendering, just the badge count, the list, the alert cue
// state, and optimistic accept/reject against the upstream.
type OrderFeedService struct {
	orders    *Collection[domain.PendingOrder]
	feed      ports.FeedClient
	snapshots ports.SnapshotSource
	actions   ports.OrderActions
	session   ports.SessionProvider
	publisher ports.EventPublisher
	cache     ports.CacheService
	audit     ports.OrderEventRepository
	log       *slog.Logger

	mu              sync.Mutex
	muted           bool
	interactionSeen bool
}

// NewOrderFeedService creates an OrderFeedService. cache, publisher, and
// audit may be nil in degraded deployments.
func NewOrderFeedService(
	feed ports.FeedClient,
	snapshots ports.SnapshotSource,
	actions ports.OrderActions,
	session ports.SessionProvider,
	publisher ports.EventPublisher,
	cache ports.CacheService,
	audit ports.OrderEventRepository,
	log *slog.Logger,
) *OrderFeedService {
	if log == nil {
		log = slog.Default()
	}
	return &OrderFeedService{
		orders:    NewCollection(mergeOrder),
		feed:      feed,
		snapshots: snapshots,
		actions:   actions,
		session:   session,
		publisher: publisher,
		cache:     cache,
		audit:     audit,
		log:       log,
	}
}

// Start restores the persisted mute preference, loads the pending snapshot,
// and opens the order subscription. Without a usable identity the stream
// never starts and the feature lives off REST fetches.
func (s *OrderFeedService) Start(ctx context.Context) error {
	s.restoreMutePref(ctx)

	if err := s.LoadSnapshot(ctx); err != nil {
		s.log.Warn("initial order snapshot failed", "error", err)
	}

	ident, err := s.session.Identity()
	if err != nil {
		metrics.SnapshotFallbacks.WithLabelValues("orders").Inc()
		s.log.Warn("order stream not started", "error", err)
		return nil
	}

	topic := fmt.Sprintf("/topic/orders/%s", ident.ClientID)
	s.feed.Connect(ctx, topic, s.handleMessage, s.handleState(ctx))
	return nil
}

// Stop tears down the stream subscription.
func (s *OrderFeedService) Stop() {
	s.feed.Disconnect()
}

// Refresh is the manual recovery action: tear down, re-fetch, reconnect the
// stream once. If that fails again the feature stays on REST until the next
// Refresh.
func (s *OrderFeedService) Refresh(ctx context.Context) error {
	s.feed.Disconnect()
	if err := s.LoadSnapshot(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// LoadSnapshot replaces the collection from the upstream REST endpoint.
// A failed fetch falls back to the last good cached snapshot when one exists.
func (s *OrderFeedService) LoadSnapshot(ctx context.Context) error {
	orders, err := s.snapshots.PendingOrders(ctx)
	if err != nil {
		if cached, ok := s.cachedSnapshot(ctx); ok {
			metrics.SnapshotFallbacks.WithLabelValues("orders").Inc()
			s.log.Warn("serving cached order snapshot", "error", err, "orders", len(cached))
			orders = cached
		} else {
			return fmt.Errorf("pending order snapshot: %w", err)
		}
	} else {
		s.cacheSnapshot(ctx, orders)
	}
	s.orders.LoadSnapshot(orders)
	metrics.OrdersPending.Set(float64(len(s.Pending())))
	return nil
}

const orderSnapshotKey = "snapshot:orders"

func (s *OrderFeedService) cacheSnapshot(ctx context.Context, orders []domain.PendingOrder) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(orders)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, orderSnapshotKey, data, 600); err != nil {
		s.log.Warn("order snapshot cache write failed", "error", err)
	}
}

func (s *OrderFeedService) cachedSnapshot(ctx context.Context) ([]domain.PendingOrder, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, orderSnapshotKey)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	var orders []domain.PendingOrder
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, false
	}
	return orders, true
}

// Pending returns the orders exposed to the notification UI: PENDING only,
// newest arrivals first.
func (s *OrderFeedService) Pending() []domain.PendingOrder {
	return s.orders.Filter(func(o domain.PendingOrder) bool {
		return o.Status == domain.OrderPending
	})
}

// Order returns one order by id.
func (s *OrderFeedService) Order(id string) (domain.PendingOrder, bool) {
	return s.orders.Get(id)
}

// FeedStatus exposes the stream connection state.
func (s *OrderFeedService) FeedStatus() domain.FeedStatus {
	return s.feed.Status()
}

// Accept removes the order optimistically, forwards the decision upstream,
// and reinstates the order if the upstream refuses.
func (s *OrderFeedService) Accept(ctx context.Context, orderID string) error {
	return s.decide(ctx, orderID, "accept", s.actions.Accept)
}

// Reject is the mirror of Accept.
func (s *OrderFeedService) Reject(ctx context.Context, orderID string) error {
	return s.decide(ctx, orderID, "reject", s.actions.Reject)
}

func (s *OrderFeedService) decide(ctx context.Context, orderID, action string, call func(context.Context, string) error) error {
	order, ok := s.orders.Get(orderID)
	if !ok {
		return fmt.Errorf("order %q not in pending set", orderID)
	}

	// Optimistic removal: the badge drops before the upstream confirms.
	s.orders.Remove(orderID)
	metrics.OrdersPending.Set(float64(len(s.Pending())))
	s.publishRemoval(ctx, orderID)

	started := time.Now()
	err := call(ctx, orderID)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		// Roll back. Apply on an absent key prepends, so the order
		// resurfaces at the top without duplicating.
		s.orders.Apply(order)
		metrics.OrdersPending.Set(float64(len(s.Pending())))
		s.publishUpdate(ctx, &order)
	}
	metrics.OrderActions.WithLabelValues(action, outcome).Inc()

	if s.audit != nil {
		ev := &domain.OrderEvent{
			OrderID:   orderID,
			Action:    action,
			Outcome:   outcome,
			LatencyMs: time.Since(started).Milliseconds(),
			At:        started.UTC(),
		}
		if auditErr := s.audit.Insert(ctx, ev); auditErr != nil {
			s.log.Warn("order event audit failed", "order", orderID, "error", auditErr)
		}
	}

	if err != nil {
		return fmt.Errorf("%s order %s: %w", action, orderID, err)
	}
	return nil
}

// Alert computes the cue state the frontend renders. The cue loops while
// pending orders exist, unless muted, and never before a user gesture has
// been observed — browsers block unsolicited audio.
func (s *OrderFeedService) Alert() domain.AlertState {
	s.mu.Lock()
	muted, seen := s.muted, s.interactionSeen
	s.mu.Unlock()

	pending := len(s.Pending())
	return domain.AlertState{
		Active:          pending > 0 && !muted && seen,
		Muted:           muted,
		InteractionSeen: seen,
		PendingCount:    pending,
	}
}

// SetMuted flips the cue mute flag and persists it across sessions.
func (s *OrderFeedService) SetMuted(ctx context.Context, muted bool) error {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()

	if s.cache == nil {
		return nil
	}
	val := []byte("0")
	if muted {
		val = []byte("1")
	}
	if err := s.cache.Set(ctx, s.muteKey(), val, 0); err != nil {
		return fmt.Errorf("persist mute preference: %w", err)
	}
	return nil
}

// MarkInteraction records that the operator has interacted with the page,
// unlocking the audio cue.
func (s *OrderFeedService) MarkInteraction() {
	s.mu.Lock()
	s.interactionSeen = true
	s.mu.Unlock()
}

// RecentEvents returns the audited accept/reject trail.
func (s *OrderFeedService) RecentEvents(ctx context.Context, limit int) ([]domain.OrderEvent, error) {
	if s.audit == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.audit.Recent(ctx, limit)
}

// handleMessage folds one streamed order record into the collection. Orders
// pushed in a non-pending state drop out of the visible set.
func (s *OrderFeedService) handleMessage(topic string, payload []byte) {
	var order domain.PendingOrder
	if err := json.Unmarshal(payload, &order); err != nil || order.ID == "" {
		metrics.FeedParseErrors.WithLabelValues(topic).Inc()
		s.log.Warn("dropping malformed order message", "topic", topic, "error", err)
		return
	}

	ctx := context.Background()
	if order.Status != "" && order.Status != domain.OrderPending {
		s.orders.Remove(order.ID)
		s.publishRemoval(ctx, order.ID)
	} else {
		merged := s.orders.Apply(order)
		s.publishUpdate(ctx, &merged)
	}
	metrics.OrdersPending.Set(float64(len(s.Pending())))
}

// handleState falls back to REST only when the stream is terminally FAILED;
// transient attempt failures are left to the client's own retry loop.
func (s *OrderFeedService) handleState(ctx context.Context) func(domain.FeedStatus) {
	return func(st domain.FeedStatus) {
		metrics.FeedState.WithLabelValues(st.Topic).Set(st.GaugeValue())
		if st.State == domain.ConnFailed && st.Terminal {
			metrics.SnapshotFallbacks.WithLabelValues("orders").Inc()
			s.log.Error("order stream failed, falling back to REST", "error", st.LastError)
			if err := s.LoadSnapshot(ctx); err != nil {
				s.log.Error("order REST fallback failed", "error", err)
			}
		}
	}
}

func (s *OrderFeedService) publishUpdate(ctx context.Context, o *domain.PendingOrder) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishOrderUpdate(ctx, o); err != nil {
		s.log.Warn("order update publish failed", "order", o.ID, "error", err)
	}
}

func (s *OrderFeedService) publishRemoval(ctx context.Context, id string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishOrderRemoved(ctx, id); err != nil {
		s.log.Warn("order removal publish failed", "order", id, "error", err)
	}
}

func (s *OrderFeedService) muteKey() string {
	ident, err := s.session.Identity()
	if err != nil {
		return mutePrefKeyPrefix + "default"
	}
	return mutePrefKeyPrefix + ident.ClientID
}

func (s *OrderFeedService) restoreMutePref(ctx context.Context) {
	if s.cache == nil {
		return
	}
	val, err := s.cache.Get(ctx, s.muteKey())
	if err != nil {
		return
	}
	s.mu.Lock()
	s.muted = string(val) == "1"
	s.mu.Unlock()
}

// mergeOrder folds a pushed order record into the stored one. The stream
// sends full records, but empty items or contact fields on the update keep
// their previous values.
func mergeOrder(existing, update domain.PendingOrder) domain.PendingOrder {
	merged := update
	if merged.OrderNumber == "" {
		merged.OrderNumber = existing.OrderNumber
	}
	if merged.CustomerName == "" {
		merged.CustomerName = existing.CustomerName
	}
	if merged.CustomerPhone == "" {
		merged.CustomerPhone = existing.CustomerPhone
	}
	if len(merged.Items) == 0 {
		merged.Items = existing.Items
	}
	if merged.Total == 0 {
		merged.Total = existing.Total
	}
	if merged.Status == "" {
		merged.Status = existing.Status
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = existing.CreatedAt
	}
	return merged
}
