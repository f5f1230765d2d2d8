package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
	"github.com/nimbuspos/dispatchboard/internal/core/ports"
	"github.com/nimbuspos/dispatchboard/internal/pkg/metrics"
)

// TrackerService owns the rider side of the dashboard: it seeds the
// reconciled collection from the upstream REST snapshot, keeps it current
// from the location stream, persists the history trail, and republishes
// deltas for dashboard view sessions.
type TrackerService struct {
	riders    *Collection[domain.Rider]
	feed      ports.FeedClient
	snapshots ports.SnapshotSource
	session   ports.SessionProvider
	publisher ports.EventPublisher
	cache     ports.CacheService
	history   ports.RiderLocationRepository
	log       *slog.Logger
}

// NewTrackerService creates a TrackerService. publisher, cache, and history
// may be nil in degraded deployments.
func NewTrackerService(
	feed ports.FeedClient,
	snapshots ports.SnapshotSource,
	session ports.SessionProvider,
	publisher ports.EventPublisher,
	cache ports.CacheService,
	history ports.RiderLocationRepository,
	log *slog.Logger,
) *TrackerService {
	if log == nil {
		log = slog.Default()
	}
	return &TrackerService{
		riders:    NewCollection(mergeRider),
		feed:      feed,
		snapshots: snapshots,
		session:   session,
		publisher: publisher,
		cache:     cache,
		history:   history,
		log:       log,
	}
}

// Start loads the initial snapshot and opens the location subscription.
// A missing identity is a precondition failure: the service stays on the
// snapshot it has (possibly empty) and never touches the stream.
func (s *TrackerService) Start(ctx context.Context) error {
	if err := s.LoadSnapshot(ctx); err != nil {
		s.log.Warn("initial rider snapshot failed", "error", err)
	}

	ident, err := s.session.Identity()
	if err != nil {
		metrics.SnapshotFallbacks.WithLabelValues("riders").Inc()
		s.log.Warn("rider stream not started", "error", err)
		return nil
	}

	topic := fmt.Sprintf("/topic/locations/%s", ident.ClientID)
	s.feed.Connect(ctx, topic, s.handleMessage, s.handleState(ctx))
	return nil
}

// Stop tears down the stream subscription.
func (s *TrackerService) Stop() {
	s.feed.Disconnect()
}

// Refresh is the manual recovery path: tear down whatever connection exists,
// try a fresh snapshot, and attempt the stream once more. Stream exhaustion
// after this lands back in REST-fallback mode until the next Refresh.
func (s *TrackerService) Refresh(ctx context.Context) error {
	s.feed.Disconnect()
	if err := s.LoadSnapshot(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// LoadSnapshot replaces the collection from the upstream REST endpoint.
// Riders absent from the new snapshot are dropped, and their removal is
// republished so view sessions drop the markers too. When the REST fetch
// fails and a cached snapshot exists, the cached one is served instead.
func (s *TrackerService) LoadSnapshot(ctx context.Context) error {
	riders, err := s.snapshots.RiderLocations(ctx)
	if err != nil {
		if cached, ok := s.cachedSnapshot(ctx); ok {
			metrics.SnapshotFallbacks.WithLabelValues("riders").Inc()
			s.log.Warn("serving cached rider snapshot", "error", err, "riders", len(cached))
			riders = cached
		} else {
			return fmt.Errorf("rider snapshot: %w", err)
		}
	} else {
		s.cacheSnapshot(ctx, riders)
	}

	before := s.riders.Keys()
	s.riders.LoadSnapshot(riders)
	metrics.RidersTracked.Set(float64(s.riders.Len()))

	present := make(map[string]struct{}, len(riders))
	for _, r := range riders {
		present[r.ID] = struct{}{}
	}
	for _, id := range before {
		if _, ok := present[id]; !ok {
			s.publishRemoval(ctx, id)
		}
	}
	for i := range riders {
		s.publishUpdate(ctx, &riders[i])
	}
	return nil
}

// Riders returns the ordered reconciled collection.
func (s *TrackerService) Riders() []domain.Rider {
	return s.riders.Items()
}

// Positioned returns only riders with a known position — the map-renderable
// subset. This is a pure filter over the base collection.
func (s *TrackerService) Positioned() []domain.Rider {
	return s.riders.Filter(func(r domain.Rider) bool { return r.Position != nil })
}

// Rider returns one rider by id.
func (s *TrackerService) Rider(id string) (domain.Rider, bool) {
	return s.riders.Get(id)
}

// FeedStatus exposes the stream connection state for the status indicator.
func (s *TrackerService) FeedStatus() domain.FeedStatus {
	return s.feed.Status()
}

// History returns the persisted location trail for one rider.
func (s *TrackerService) History(ctx context.Context, riderID string, since time.Time, limit int) ([]domain.RiderLocationRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	return s.history.History(ctx, riderID, since, limit)
}

// handleMessage folds one streamed location update into the collection.
// Parse failures are logged and dropped; they never stop the subscription.
func (s *TrackerService) handleMessage(topic string, payload []byte) {
	var upd domain.LocationUpdate
	if err := json.Unmarshal(payload, &upd); err != nil || upd.RiderID == "" {
		metrics.FeedParseErrors.WithLabelValues(topic).Inc()
		s.log.Warn("dropping malformed location update", "topic", topic, "error", err)
		return
	}

	rider := riderFromUpdate(upd)
	merged := s.riders.Apply(rider)
	metrics.RidersTracked.Set(float64(s.riders.Len()))

	ctx := context.Background()
	s.publishUpdate(ctx, &merged)

	if s.history != nil && merged.Position != nil {
		rec := &domain.RiderLocationRecord{
			Time:     merged.UpdatedAt,
			RiderID:  merged.ID,
			Location: *merged.Position,
			Heading:  merged.Heading,
			Speed:    merged.Speed,
			Status:   merged.Status,
		}
		if err := s.history.Insert(ctx, rec); err != nil {
			s.log.Warn("location history insert failed", "rider", merged.ID, "error", err)
		}
	}
}

// handleState reacts to connection transitions. Only terminal exhaustion
// falls back to a REST fetch; transient failures are the client's to retry,
// and reloading on each of them would republish removals to every view
// session per attempt.
func (s *TrackerService) handleState(ctx context.Context) func(domain.FeedStatus) {
	return func(st domain.FeedStatus) {
		metrics.FeedState.WithLabelValues(st.Topic).Set(st.GaugeValue())
		if st.State == domain.ConnFailed && st.Terminal {
			metrics.SnapshotFallbacks.WithLabelValues("riders").Inc()
			s.log.Error("rider stream failed, falling back to REST", "error", st.LastError)
			if err := s.LoadSnapshot(ctx); err != nil {
				s.log.Error("rider REST fallback failed", "error", err)
			}
		}
	}
}

// riderSnapshotKey is where the last good REST snapshot is kept for
// degraded mode. A stale roster beats an empty map when both the stream
// and the REST endpoint are down.
const riderSnapshotKey = "snapshot:riders"

func (s *TrackerService) cacheSnapshot(ctx context.Context, riders []domain.Rider) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(riders)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, riderSnapshotKey, data, 600); err != nil {
		s.log.Warn("rider snapshot cache write failed", "error", err)
	}
}

func (s *TrackerService) cachedSnapshot(ctx context.Context) ([]domain.Rider, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, riderSnapshotKey)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	var riders []domain.Rider
	if err := json.Unmarshal(data, &riders); err != nil {
		return nil, false
	}
	return riders, true
}

func (s *TrackerService) publishUpdate(ctx context.Context, r *domain.Rider) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRiderUpdate(ctx, r); err != nil {
		s.log.Warn("rider update publish failed", "rider", r.ID, "error", err)
	}
}

func (s *TrackerService) publishRemoval(ctx context.Context, id string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRiderRemoved(ctx, id); err != nil {
		s.log.Warn("rider removal publish failed", "rider", id, "error", err)
	}
}

// riderFromUpdate lifts a streamed partial into a Rider record. Name, phone
// and status are filled by the merge when the rider already exists.
func riderFromUpdate(upd domain.LocationUpdate) domain.Rider {
	ts := upd.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return domain.Rider{
		ID:        upd.RiderID,
		Position:  &domain.GeoPoint{Lat: upd.Latitude, Lon: upd.Longitude},
		Heading:   upd.Bearing,
		Speed:     upd.Speed,
		Status:    upd.Status,
		UpdatedAt: ts,
	}
}

// mergeRider folds a partial update into an existing record: fields the
// update does not carry keep their previous values.
func mergeRider(existing, update domain.Rider) domain.Rider {
	merged := existing
	if update.Position != nil {
		merged.Position = update.Position
		merged.Heading = update.Heading
		merged.Speed = update.Speed
	}
	if update.Name != "" {
		merged.Name = update.Name
	}
	if update.Phone != "" {
		merged.Phone = update.Phone
	}
	if update.Status != "" {
		merged.Status = update.Status
	}
	if !update.UpdatedAt.IsZero() {
		merged.UpdatedAt = update.UpdatedAt
	}
	return merged
}
