package usecases_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
	"github.com/nimbuspos/dispatchboard/internal/core/ports"
	"github.com/nimbuspos/dispatchboard/internal/core/usecases"
)

// --- Shared mocks for the feed-backed services ---

type mockFeed struct {
	mu          sync.Mutex
	topic       string
	onMessage   func(topic string, payload []byte)
	onState     func(domain.FeedStatus)
	connects    int
	disconnects int
	status      domain.FeedStatus
}

func (m *mockFeed) Connect(ctx context.Context, topic string, onMessage func(string, []byte), onState func(domain.FeedStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	m.topic = topic
	m.onMessage = onMessage
	m.onState = onState
}

func (m *mockFeed) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
}

func (m *mockFeed) Status() domain.FeedStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockFeed) push(payload []byte) {
	m.mu.Lock()
	h := m.onMessage
	topic := m.topic
	m.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
}

func (m *mockFeed) pushState(st domain.FeedStatus) {
	m.mu.Lock()
	h := m.onState
	m.mu.Unlock()
	if h != nil {
		h(st)
	}
}

type mockSnapshots struct {
	ridersFn func(ctx context.Context) ([]domain.Rider, error)
	ordersFn func(ctx context.Context) ([]domain.PendingOrder, error)
}

func (m *mockSnapshots) RiderLocations(ctx context.Context) ([]domain.Rider, error) {
	if m.ridersFn != nil {
		return m.ridersFn(ctx)
	}
	return nil, nil
}

func (m *mockSnapshots) PendingOrders(ctx context.Context) ([]domain.PendingOrder, error) {
	if m.ordersFn != nil {
		return m.ordersFn(ctx)
	}
	return nil, nil
}

type mockSession struct {
	ident domain.Session
	err   error
}

func (m *mockSession) Identity() (domain.Session, error) {
	if m.err != nil {
		return domain.Session{}, m.err
	}
	return m.ident, nil
}

type mockPublisher struct {
	mu            sync.Mutex
	riderUpdates  []string
	riderRemovals []string
	orderUpdates  []string
	orderRemovals []string
}

func (m *mockPublisher) PublishRiderUpdate(ctx context.Context, r *domain.Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riderUpdates = append(m.riderUpdates, r.ID)
	return nil
}

func (m *mockPublisher) PublishRiderRemoved(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riderRemovals = append(m.riderRemovals, id)
	return nil
}

func (m *mockPublisher) PublishOrderUpdate(ctx context.Context, o *domain.PendingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderUpdates = append(m.orderUpdates, o.ID)
	return nil
}

func (m *mockPublisher) PublishOrderRemoved(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderRemovals = append(m.orderRemovals, id)
	return nil
}

type mockHistory struct {
	mu      sync.Mutex
	inserts []domain.RiderLocationRecord
}

func (m *mockHistory) Insert(ctx context.Context, rec *domain.RiderLocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts = append(m.inserts, *rec)
	return nil
}

func (m *mockHistory) History(ctx context.Context, riderID string, since time.Time, limit int) ([]domain.RiderLocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RiderLocationRecord
	for _, r := range m.inserts {
		if r.RiderID == riderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func locationJSON(t *testing.T, upd domain.LocationUpdate) []byte {
	t.Helper()
	data, err := json.Marshal(upd)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	return data
}

// --- Tests ---

func TestTrackerService_StartSeedsFromSnapshot(t *testing.T) {
	feed := &mockFeed{}
	snaps := &mockSnapshots{
		ridersFn: func(ctx context.Context) ([]domain.Rider, error) {
			return []domain.Rider{
				{ID: "r1", Name: "Asha", Position: &domain.GeoPoint{Lat: 1, Lon: 1}},
				{ID: "r2", Name: "Bram"},
			}, nil
		},
	}
	sess := &mockSession{ident: domain.Session{Token: "tok", ClientID: "c-9"}}

	svc := usecases.NewTrackerService(feed, snaps, sess, nil, nil, nil, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if got := svc.Riders(); len(got) != 2 {
		t.Fatalf("expected 2 riders, got %d", len(got))
	}
	if got := svc.Positioned(); len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("positioned = %v, want only r1", got)
	}
	if feed.connects != 1 {
		t.Fatalf("expected 1 stream connect, got %d", feed.connects)
	}
	if feed.topic != "/topic/locations/c-9" {
		t.Errorf("topic = %q, want /topic/locations/c-9", feed.topic)
	}
}

func TestTrackerService_MissingIdentitySkipsStream(t *testing.T) {
	feed := &mockFeed{}
	sess := &mockSession{err: ports.ErrNoIdentity}

	svc := usecases.NewTrackerService(feed, &mockSnapshots{}, sess, nil, nil, nil, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("missing identity must not fail start: %v", err)
	}
	if feed.connects != 0 {
		t.Errorf("stream must not start without an identity, connects = %d", feed.connects)
	}
}

func TestTrackerService_StreamUpdateMergesAndPublishes(t *testing.T) {
	feed := &mockFeed{}
	snaps := &mockSnapshots{
		ridersFn: func(ctx context.Context) ([]domain.Rider, error) {
			return []domain.Rider{{ID: "r1", Name: "Asha", Phone: "555", Status: domain.RiderIdle}}, nil
		},
	}
	sess := &mockSession{ident: domain.Session{Token: "tok", ClientID: "c-9"}}
	pub := &mockPublisher{}
	hist := &mockHistory{}

	svc := usecases.NewTrackerService(feed, snaps, sess, pub, nil, hist, nil)
	_ = svc.Start(context.Background())

	feed.push(locationJSON(t, domain.LocationUpdate{
		RiderID:   "r1",
		Latitude:  43.26,
		Longitude: -2.93,
		Bearing:   90,
		Speed:     5,
		Status:    domain.RiderOnJob,
		Timestamp: time.Now(),
	}))

	got, ok := svc.Rider("r1")
	if !ok {
		t.Fatal("rider lost after update")
	}
	if got.Name != "Asha" || got.Phone != "555" {
		t.Errorf("merge dropped snapshot-only fields: %+v", got)
	}
	if got.Position == nil || got.Position.Lat != 43.26 {
		t.Errorf("position not applied: %+v", got.Position)
	}
	if got.Status != domain.RiderOnJob {
		t.Errorf("status = %q, want ON_JOB", got.Status)
	}

	if len(pub.riderUpdates) == 0 || pub.riderUpdates[len(pub.riderUpdates)-1] != "r1" {
		t.Error("merged update was not republished")
	}
	if len(hist.inserts) != 1 || hist.inserts[0].RiderID != "r1" {
		t.Errorf("history not persisted: %v", hist.inserts)
	}
}

func TestTrackerService_UnknownRiderFromStreamPrepends(t *testing.T) {
	feed := &mockFeed{}
	snaps := &mockSnapshots{
		ridersFn: func(ctx context.Context) ([]domain.Rider, error) {
			return []domain.Rider{{ID: "r1"}}, nil
		},
	}
	sess := &mockSession{ident: domain.Session{Token: "tok", ClientID: "c-9"}}

	svc := usecases.NewTrackerService(feed, snaps, sess, nil, nil, nil, nil)
	_ = svc.Start(context.Background())

	feed.push(locationJSON(t, domain.LocationUpdate{RiderID: "r9", Latitude: 1, Longitude: 2}))

	riders := svc.Riders()
	if len(riders) != 2 || riders[0].ID != "r9" {
		t.Errorf("expected stream newcomer first, got %v", riders)
	}
}

func TestTrackerService_MalformedUpdateIsDropped(t *testing.T) {
	feed := &mockFeed{}
	sess := &mockSession{ident: domain.Session{Token: "tok", ClientID: "c-9"}}

	svc := usecases.NewTrackerService(feed, &mockSnapshots{}, sess, nil, nil, nil, nil)
	_ = svc.Start(context.Background())

	feed.push([]byte("{not json"))
	feed.push([]byte(`{"latitude": 1}`)) // missing riderId

	if got := svc.Riders(); len(got) != 0 {
		t.Errorf("malformed updates must not create riders: %v", got)
	}
}

func TestTrackerService_SnapshotRemovalIsRepublished(t *testing.T) {
	calls := 0
	feed := &mockFeed{}
	snaps := &mockSnapshots{
		ridersFn: func(ctx context.Context) ([]domain.Rider, error) {
			calls++
			if calls == 1 {
				return []domain.Rider{{ID: "r1"}, {ID: "r2"}}, nil
			}
			return []domain.Rider{{ID: "r2"}}, nil
		},
	}
	sess := &mockSession{ident: domain.Session{Token: "tok", ClientID: "c-9"}}
	pub := &mockPublisher{}

	svc := usecases.NewTrackerService(feed, snaps, sess, pub, nil, nil, nil)
	_ = svc.Start(context.Background())
	if err := svc.LoadSnapshot(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if _, ok := svc.Rider("r1"); ok {
		t.Error("rider absent from new snapshot survived")
	}
	if len(pub.riderRemovals) != 1 || pub.riderRemovals[0] != "r1" {
		t.Errorf("removals = %v, want [r1]", pub.riderRemovals)
	}
}

func TestTrackerService_StreamFailureFallsBackToRest(t *testing.T) {
	calls := 0
	feed := &mockFeed{}
	snaps := &mockSnapshots{
		ridersFn: func(ctx context.Context) ([]domain.Rider, error) {
			calls++
			return []domain.Rider{{ID: "r1"}}, nil
		},
	}
	sess := &mockSession{ident: domain.Session{Token: "tok", ClientID: "c-9"}}

	svc := usecases.NewTrackerService(feed, snaps, sess, nil, nil, nil, nil)
	_ = svc.Start(context.Background())

	feed.pushState(domain.FeedStatus{State: domain.ConnFailed, LastError: "gone", Terminal: true})

	// Start fetched once; the exhaustion transition fetches again.
	if calls != 2 {
		t.Errorf("expected REST fallback fetch on stream failure, fetches = %d", calls)
	}
}

func TestTrackerService_TransientFailuresDoNotRefetch(t *testing.T) {
	calls := 0
	feed := &mockFeed{}
	snaps := &mockSnapshots{
		ridersFn: func(ctx context.Context) ([]domain.Rider, error) {
			calls++
			return []domain.Rider{{ID: "r1"}}, nil
		},
	}
	sess := &mockSession{ident: domain.Session{Token: "tok", ClientID: "c-9"}}

	svc := usecases.NewTrackerService(feed, snaps, sess, nil, nil, nil, nil)
	_ = svc.Start(context.Background())

	// The supervision loop emits FAILED then RECONNECTING per attempt while
	// attempts remain. None of these may trigger a snapshot reload.
	for attempt := 1; attempt <= 2; attempt++ {
		feed.pushState(domain.FeedStatus{State: domain.ConnFailed, LastError: "dial refused", ReconnectAttempts: attempt})
		feed.pushState(domain.FeedStatus{State: domain.ConnReconnecting, LastError: "dial refused", ReconnectAttempts: attempt})
	}
	if calls != 1 {
		t.Fatalf("transient failures triggered REST reloads, fetches = %d, want 1", calls)
	}

	feed.pushState(domain.FeedStatus{State: domain.ConnFailed, LastError: "dial refused", ReconnectAttempts: 3, Terminal: true})
	if calls != 2 {
		t.Fatalf("fetches after exhaustion = %d, want 2 (initial + terminal fallback)", calls)
	}
}

func TestTrackerService_RefreshTearsDownAndReconnects(t *testing.T) {
	feed := &mockFeed{}
	sess := &mockSession{ident: domain.Session{Token: "tok", ClientID: "c-9"}}

	svc := usecases.NewTrackerService(feed, &mockSnapshots{}, sess, nil, nil, nil, nil)
	_ = svc.Start(context.Background())

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if feed.disconnects != 1 {
		t.Errorf("refresh must tear the old stream down, disconnects = %d", feed.disconnects)
	}
	if feed.connects != 2 {
		t.Errorf("refresh must reconnect, connects = %d", feed.connects)
	}
}

func TestTrackerService_RefreshFailsOnSnapshotError(t *testing.T) {
	feed := &mockFeed{}
	snaps := &mockSnapshots{
		ridersFn: func(ctx context.Context) ([]domain.Rider, error) {
			return nil, errors.New("upstream 500")
		},
	}
	sess := &mockSession{ident: domain.Session{Token: "tok", ClientID: "c-9"}}

	svc := usecases.NewTrackerService(feed, snaps, sess, nil, nil, nil, nil)
	if err := svc.Refresh(context.Background()); err == nil {
		t.Error("expected refresh to surface the snapshot error")
	}
}

func TestTrackerService_ServesCachedSnapshotWhenUpstreamDown(t *testing.T) {
	cache := newMockCache()
	sess := &mockSession{ident: domain.Session{Token: "tok", ClientID: "c-9"}}

	good := &mockSnapshots{
		ridersFn: func(ctx context.Context) ([]domain.Rider, error) {
			return []domain.Rider{{ID: "r1", Name: "Asha", Position: &domain.GeoPoint{Lat: 1, Lon: 1}}}, nil
		},
	}
	warm := usecases.NewTrackerService(&mockFeed{}, good, sess, nil, cache, nil, nil)
	if err := warm.Start(context.Background()); err != nil {
		t.Fatalf("warm start: %v", err)
	}

	down := &mockSnapshots{
		ridersFn: func(ctx context.Context) ([]domain.Rider, error) {
			return nil, errors.New("upstream 500")
		},
	}
	svc := usecases.NewTrackerService(&mockFeed{}, down, sess, nil, cache, nil, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("degraded start: %v", err)
	}

	got := svc.Riders()
	if len(got) != 1 || got[0].ID != "r1" || got[0].Name != "Asha" {
		t.Fatalf("expected cached rider r1, got %v", got)
	}
}
