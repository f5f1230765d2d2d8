package usecases

import (
	"fmt"
	"sync"
	"time"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
	"github.com/nimbuspos/dispatchboard/internal/pkg/geospatial"
	"github.com/nimbuspos/dispatchboard/internal/pkg/metrics"
)

// ViewConfig tunes one map view session.
type ViewConfig struct {
	AnimationDuration time.Duration
	SnapThresholdM    float64 // below this, position is set directly
	FocusZoom         float64
	DefaultZoom       float64
}

// Marker is one rendered rider. Rendered position/heading lag the
// authoritative rider state while an animation is in flight.
type Marker struct {
	Rider       domain.Rider
	Position    domain.GeoPoint
	Heading     float64
	Highlighted bool
	anim        *Animation
}

// MarkerFrame is the wire-level projection of a marker sent to the dashboard.
type MarkerFrame struct {
	RiderID     string             `json:"rider_id"`
	Name        string             `json:"name"`
	Phone       string             `json:"phone,omitempty"`
	Position    domain.GeoPoint    `json:"position"`
	Heading     float64            `json:"heading"`
	Speed       float64            `json:"speed"`
	Status      domain.RiderStatus `json:"status"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Highlighted bool               `json:"highlighted"`
}

// Camera describes where the map should look.
type Camera struct {
	Mode   string          `json:"mode"` // "fit" | "follow"
	Center domain.GeoPoint `json:"center"`
	Zoom   float64         `json:"zoom"`
	Bounds *domain.Bounds  `json:"bounds,omitempty"`
}

// Base tile layers the dashboard can toggle between.
const (
	LayerStreets   = "streets"
	LayerSatellite = "satellite"
)

// MapView owns one dashboard session's map state: the rendered marker table,
// the focus mode, and the camera. Markers exist only for riders with a known
// position; in focus mode all other markers are removed outright, not hidden.
// The roster keeps the latest authoritative rider state so ShowAll can
// re-materialize markers without a network round trip.
type MapView struct {
	mu        sync.Mutex
	cfg       ViewConfig
	roster    map[string]domain.Rider
	markers   map[string]*Marker
	focusID   string // "" means all entities
	baseLayer string
	camera    Camera
	closed    bool
}

// NewMapView creates a view in all-entities mode.
func NewMapView(cfg ViewConfig) *MapView {
	if cfg.DefaultZoom == 0 {
		cfg.DefaultZoom = 12
	}
	return &MapView{
		cfg:       cfg,
		roster:    make(map[string]domain.Rider),
		markers:   make(map[string]*Marker),
		baseLayer: LayerStreets,
		camera:    Camera{Mode: "fit", Zoom: cfg.DefaultZoom},
	}
}

// Apply folds one reconciled rider update into the view. Unseen riders get a
// fresh marker; known ones animate when the move exceeds the snap threshold
// and snap otherwise. Popup content (name, speed, status, last seen) is
// refreshed unconditionally either way.
func (v *MapView) Apply(rider domain.Rider, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}

	v.roster[rider.ID] = rider

	if rider.Position == nil {
		// No known position: list views may still show the rider, the map
		// must not.
		delete(v.markers, rider.ID)
		v.refitLocked()
		return
	}

	if v.focusID != "" && v.focusID != rider.ID {
		return
	}

	m, ok := v.markers[rider.ID]
	if !ok {
		v.markers[rider.ID] = &Marker{
			Rider:       rider,
			Position:    *rider.Position,
			Heading:     geospatial.NormalizeHeading(rider.Heading),
			Highlighted: v.focusID == rider.ID,
		}
		v.refitLocked()
		return
	}

	m.Rider = rider

	curPos, curHeading := m.Position, m.Heading
	if m.anim != nil {
		// Supersede mid-flight: the new animation starts from the current
		// interpolated state, not the stale target.
		curPos, curHeading, _ = m.anim.At(now)
	}

	dist := geospatial.Haversine(curPos.Lat, curPos.Lon, rider.Position.Lat, rider.Position.Lon)
	if dist < v.cfg.SnapThresholdM {
		// GPS jitter; don't animate the imperceptible.
		m.anim = nil
		m.Position = *rider.Position
		m.Heading = geospatial.NormalizeHeading(rider.Heading)
	} else {
		m.Position = curPos
		m.Heading = curHeading
		m.anim = NewAnimation(curPos, *rider.Position, curHeading, rider.Heading, now, v.cfg.AnimationDuration)
		metrics.AnimationsStarted.Inc()
	}

	v.refitLocked()
}

// Sync applies a full rider set and drops markers for riders no longer in it.
func (v *MapView) Sync(riders []domain.Rider, now time.Time) {
	present := make(map[string]struct{}, len(riders))
	for _, r := range riders {
		present[r.ID] = struct{}{}
	}

	v.mu.Lock()
	for id := range v.roster {
		if _, ok := present[id]; !ok {
			delete(v.roster, id)
			delete(v.markers, id)
		}
	}
	v.mu.Unlock()

	for _, r := range riders {
		v.Apply(r, now)
	}
}

// Remove drops a rider from the view, cancelling any in-flight animation so
// no handle leaks.
func (v *MapView) Remove(riderID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.roster, riderID)
	if m, ok := v.markers[riderID]; ok {
		m.anim = nil
		delete(v.markers, riderID)
	}
	if v.focusID == riderID {
		v.focusID = ""
	}
	v.refitLocked()
}

// Focus enters single-rider tracking: every other marker is removed and the
// camera flies to the rider at the focus zoom.
func (v *MapView) Focus(riderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	rider, ok := v.roster[riderID]
	if !ok {
		return fmt.Errorf("unknown rider %q", riderID)
	}

	// Focused(a) → Focused(b) passes through show-all conceptually: drop
	// everything, then materialize only the target.
	for id, m := range v.markers {
		m.anim = nil
		delete(v.markers, id)
	}
	v.focusID = riderID

	if rider.Position != nil {
		v.markers[riderID] = &Marker{
			Rider:       rider,
			Position:    *rider.Position,
			Heading:     geospatial.NormalizeHeading(rider.Heading),
			Highlighted: true,
		}
		v.camera = Camera{Mode: "follow", Center: *rider.Position, Zoom: v.cfg.FocusZoom}
	}
	return nil
}

// ShowAll leaves focus mode, restores every positioned rider's marker, and
// re-fits the camera.
func (v *MapView) ShowAll() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.focusID = ""
	for id, r := range v.roster {
		if r.Position == nil {
			continue
		}
		if m, ok := v.markers[id]; ok {
			m.Highlighted = false
			continue
		}
		v.markers[id] = &Marker{
			Rider:    r,
			Position: *r.Position,
			Heading:  geospatial.NormalizeHeading(r.Heading),
		}
	}
	v.refitLocked()
}

// ToggleBaseLayer flips between street and satellite tiles and returns the
// active layer.
func (v *MapView) ToggleBaseLayer() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.baseLayer == LayerStreets {
		v.baseLayer = LayerSatellite
	} else {
		v.baseLayer = LayerStreets
	}
	return v.baseLayer
}

// Advance steps every in-flight animation to now and returns frames for the
// markers whose rendered state changed. Markers with no pending animation
// cost nothing here.
func (v *MapView) Advance(now time.Time) []MarkerFrame {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}

	var frames []MarkerFrame
	for _, m := range v.markers {
		if m.anim == nil {
			continue
		}
		pos, heading, done := m.anim.At(now)
		m.Position = pos
		m.Heading = heading
		if done {
			m.anim = nil
		}
		frames = append(frames, frameOf(m))
	}

	if len(frames) > 0 {
		v.refitLocked()
	}
	return frames
}

// Frames returns the current frame of every rendered marker.
func (v *MapView) Frames() []MarkerFrame {
	v.mu.Lock()
	defer v.mu.Unlock()

	frames := make([]MarkerFrame, 0, len(v.markers))
	for _, m := range v.markers {
		frames = append(frames, frameOf(m))
	}
	return frames
}

// Camera returns the current camera state.
func (v *MapView) Camera() Camera {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.camera
}

// BaseLayer returns the active tile layer.
func (v *MapView) BaseLayer() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.baseLayer
}

// Focused reports the focused rider id, or "" in all-entities mode.
func (v *MapView) Focused() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.focusID
}

// MarkerCount reports how many markers are rendered.
func (v *MapView) MarkerCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.markers)
}

// HasAnimation reports whether the rider's marker has an animation in flight.
func (v *MapView) HasAnimation(riderID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.markers[riderID]
	return ok && m.anim != nil
}

// Close tears the view down, cancelling all outstanding animations.
func (v *MapView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	for id, m := range v.markers {
		m.anim = nil
		delete(v.markers, id)
	}
	v.roster = make(map[string]domain.Rider)
}

// refitLocked recomputes the camera. In all-entities mode the camera bounds
// every rendered marker; in focus mode it follows the focused marker.
func (v *MapView) refitLocked() {
	if v.focusID != "" {
		if m, ok := v.markers[v.focusID]; ok {
			v.camera = Camera{Mode: "follow", Center: m.Position, Zoom: v.cfg.FocusZoom}
		}
		return
	}

	var bounds *domain.Bounds
	for _, m := range v.markers {
		if bounds == nil {
			b := domain.FromPoint(m.Position)
			bounds = &b
			continue
		}
		bounds.Extend(m.Position)
	}

	if bounds == nil {
		v.camera = Camera{Mode: "fit", Zoom: v.cfg.DefaultZoom}
		return
	}
	v.camera = Camera{Mode: "fit", Center: bounds.Center(), Zoom: v.cfg.DefaultZoom, Bounds: bounds}
}

func frameOf(m *Marker) MarkerFrame {
	return MarkerFrame{
		RiderID:     m.Rider.ID,
		Name:        m.Rider.Name,
		Phone:       m.Rider.Phone,
		Position:    m.Position,
		Heading:     m.Heading,
		Speed:       m.Rider.Speed,
		Status:      m.Rider.Status,
		UpdatedAt:   m.Rider.UpdatedAt,
		Highlighted: m.Highlighted,
	}
}
