package usecases_test

import (
	"testing"
	"time"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
	"github.com/nimbuspos/dispatchboard/internal/core/usecases"
)

func testView() *usecases.MapView {
	return usecases.NewMapView(usecases.ViewConfig{
		AnimationDuration: 2 * time.Second,
		SnapThresholdM:    5,
		FocusZoom:         16,
		DefaultZoom:       12,
	})
}

func movingRider(id string, lat, lon, heading float64) domain.Rider {
	return domain.Rider{
		ID:       id,
		Name:     "Rider " + id,
		Position: &domain.GeoPoint{Lat: lat, Lon: lon},
		Heading:  heading,
		Status:   domain.RiderOnJob,
	}
}

func TestMapView_ApplyCreatesMarkerAtExactPosition(t *testing.T) {
	v := testView()
	now := time.Now()

	v.Apply(movingRider("r1", 43.26, -2.93, 90), now)

	if v.MarkerCount() != 1 {
		t.Fatalf("expected 1 marker, got %d", v.MarkerCount())
	}
	if v.HasAnimation("r1") {
		t.Error("fresh marker must not animate into existence")
	}
	frames := v.Frames()
	if frames[0].Position != (domain.GeoPoint{Lat: 43.26, Lon: -2.93}) {
		t.Errorf("marker at %+v, want the reported position", frames[0].Position)
	}
}

func TestMapView_SmallMoveSnaps(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Apply(movingRider("r1", 43.26000, -2.93000, 0), now)

	// ~2m north: below the snap threshold, GPS jitter territory.
	v.Apply(movingRider("r1", 43.26002, -2.93000, 0), now)

	if v.HasAnimation("r1") {
		t.Error("sub-threshold move must snap, not animate")
	}
	frames := v.Frames()
	if frames[0].Position.Lat != 43.26002 {
		t.Errorf("snap must land on the new position, got %+v", frames[0].Position)
	}
}

func TestMapView_LargeMoveAnimates(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Apply(movingRider("r1", 43.2600, -2.9300, 0), now)

	// ~500m: well above the threshold.
	v.Apply(movingRider("r1", 43.2645, -2.9300, 0), now)

	if !v.HasAnimation("r1") {
		t.Fatal("super-threshold move must animate")
	}

	// Mid-flight the rendered position lags the authoritative one.
	frames := v.Advance(now.Add(1 * time.Second))
	if len(frames) != 1 {
		t.Fatalf("expected 1 animating frame, got %d", len(frames))
	}
	lat := frames[0].Position.Lat
	if lat <= 43.2600 || lat >= 43.2645 {
		t.Errorf("mid-flight lat = %v, want strictly between endpoints", lat)
	}

	// Past the duration the marker lands exactly and the animation is freed.
	v.Advance(now.Add(3 * time.Second))
	if v.HasAnimation("r1") {
		t.Error("animation must be released on completion")
	}
	if got := v.Frames()[0].Position.Lat; got != 43.2645 {
		t.Errorf("final lat = %v, want exact target", got)
	}
}

func TestMapView_SupersededAnimationStartsFromInterpolatedState(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Apply(movingRider("r1", 43.2600, -2.9300, 0), now)
	v.Apply(movingRider("r1", 43.2645, -2.9300, 0), now)

	// Halfway through, a new report arrives. The marker must continue from
	// where it is rendered, not jump back or to the stale target.
	mid := now.Add(1 * time.Second)
	v.Apply(movingRider("r1", 43.2700, -2.9300, 0), mid)

	frames := v.Frames()
	lat := frames[0].Position.Lat
	if lat <= 43.2600 || lat >= 43.2645 {
		t.Errorf("superseded animation must start mid-flight, lat = %v", lat)
	}
	if !v.HasAnimation("r1") {
		t.Error("expected a fresh animation toward the new target")
	}
}

func TestMapView_AdvanceSkipsIdleMarkers(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Apply(movingRider("r1", 43.26, -2.93, 0), now)
	v.Apply(movingRider("r2", 43.27, -2.94, 0), now)
	v.Apply(movingRider("r2", 43.28, -2.94, 0), now) // r2 animates

	frames := v.Advance(now.Add(500 * time.Millisecond))
	if len(frames) != 1 || frames[0].RiderID != "r2" {
		t.Errorf("expected only the animating marker in frames, got %v", frames)
	}
}

func TestMapView_FocusRemovesOtherMarkers(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Apply(movingRider("r1", 43.26, -2.93, 0), now)
	v.Apply(movingRider("r2", 43.27, -2.94, 0), now)
	v.Apply(movingRider("r3", 43.28, -2.95, 0), now)

	if err := v.Focus("r2"); err != nil {
		t.Fatalf("focus: %v", err)
	}

	if v.MarkerCount() != 1 {
		t.Fatalf("focus must remove other markers, got %d", v.MarkerCount())
	}
	frames := v.Frames()
	if frames[0].RiderID != "r2" || !frames[0].Highlighted {
		t.Errorf("expected highlighted r2, got %+v", frames[0])
	}
	cam := v.Camera()
	if cam.Mode != "follow" || cam.Zoom != 16 {
		t.Errorf("focus camera = %+v, want follow at focus zoom", cam)
	}

	// Updates for unfocused riders are dropped, not hidden.
	v.Apply(movingRider("r1", 43.30, -2.93, 0), now)
	if v.MarkerCount() != 1 {
		t.Error("unfocused rider update must not materialize a marker")
	}
}

func TestMapView_ShowAllRestoresMarkers(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Apply(movingRider("r1", 43.26, -2.93, 0), now)
	v.Apply(movingRider("r2", 43.27, -2.94, 0), now)
	v.Apply(movingRider("r3", 43.28, -2.95, 0), now)
	_ = v.Focus("r1")

	v.ShowAll()

	if v.MarkerCount() != 3 {
		t.Fatalf("expected 3 markers restored, got %d", v.MarkerCount())
	}
	for _, f := range v.Frames() {
		if f.Highlighted {
			t.Errorf("marker %s still highlighted after show-all", f.RiderID)
		}
	}
	if cam := v.Camera(); cam.Mode != "fit" || cam.Bounds == nil {
		t.Errorf("show-all camera = %+v, want fit with bounds", cam)
	}
}

func TestMapView_FocusToFocusSwitchesCleanly(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Apply(movingRider("r1", 43.26, -2.93, 0), now)
	v.Apply(movingRider("r2", 43.27, -2.94, 0), now)

	_ = v.Focus("r1")
	if err := v.Focus("r2"); err != nil {
		t.Fatalf("focus switch: %v", err)
	}

	if v.MarkerCount() != 1 {
		t.Fatalf("expected exactly the new target, got %d markers", v.MarkerCount())
	}
	if v.Frames()[0].RiderID != "r2" {
		t.Errorf("expected r2 focused, got %s", v.Frames()[0].RiderID)
	}
	if v.Focused() != "r2" {
		t.Errorf("Focused() = %q, want r2", v.Focused())
	}
}

func TestMapView_FocusUnknownRider(t *testing.T) {
	v := testView()
	if err := v.Focus("ghost"); err == nil {
		t.Error("expected error focusing an unknown rider")
	}
}

func TestMapView_RemoveCancelsAnimation(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Apply(movingRider("r1", 43.26, -2.93, 0), now)
	v.Apply(movingRider("r1", 43.27, -2.93, 0), now)

	v.Remove("r1")

	if v.MarkerCount() != 0 {
		t.Error("removed rider still rendered")
	}
	if frames := v.Advance(now.Add(1 * time.Second)); len(frames) != 0 {
		t.Errorf("removed rider still animating: %v", frames)
	}
}

func TestMapView_RemoveFocusedRiderDropsFocus(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Apply(movingRider("r1", 43.26, -2.93, 0), now)
	_ = v.Focus("r1")

	v.Remove("r1")

	if v.Focused() != "" {
		t.Errorf("focus survived removal: %q", v.Focused())
	}
}

func TestMapView_UnpositionedRiderHasNoMarker(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Apply(domain.Rider{ID: "r1", Name: "No Fix"}, now)

	if v.MarkerCount() != 0 {
		t.Error("rider without a position must not be rendered")
	}
	// It is still in the roster, so focusing it is legal; it just renders
	// nothing until a fix arrives.
	if err := v.Focus("r1"); err != nil {
		t.Errorf("focus on unpositioned rider: %v", err)
	}
	if v.MarkerCount() != 0 {
		t.Error("focus must not invent a position")
	}
}

func TestMapView_SyncDropsDepartedRiders(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Sync([]domain.Rider{
		movingRider("r1", 43.26, -2.93, 0),
		movingRider("r2", 43.27, -2.94, 0),
	}, now)

	v.Sync([]domain.Rider{movingRider("r2", 43.27, -2.94, 0)}, now)

	if v.MarkerCount() != 1 {
		t.Fatalf("expected departed rider dropped, got %d markers", v.MarkerCount())
	}
	if v.Frames()[0].RiderID != "r2" {
		t.Errorf("wrong survivor: %s", v.Frames()[0].RiderID)
	}
}

func TestMapView_ToggleBaseLayer(t *testing.T) {
	v := testView()
	if got := v.ToggleBaseLayer(); got != usecases.LayerSatellite {
		t.Errorf("first toggle = %q, want satellite", got)
	}
	if got := v.ToggleBaseLayer(); got != usecases.LayerStreets {
		t.Errorf("second toggle = %q, want streets", got)
	}
}

func TestMapView_CameraFitsBounds(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Apply(movingRider("r1", 43.26, -2.93, 0), now)
	v.Apply(movingRider("r2", 43.30, -2.90, 0), now)

	cam := v.Camera()
	if cam.Mode != "fit" || cam.Bounds == nil {
		t.Fatalf("camera = %+v, want fit with bounds", cam)
	}
	if cam.Bounds.MinLat != 43.26 || cam.Bounds.MaxLat != 43.30 {
		t.Errorf("bounds lat = [%v, %v], want [43.26, 43.30]", cam.Bounds.MinLat, cam.Bounds.MaxLat)
	}
}

func TestMapView_CloseDropsEverything(t *testing.T) {
	v := testView()
	now := time.Now()
	v.Apply(movingRider("r1", 43.26, -2.93, 0), now)

	v.Close()

	if v.MarkerCount() != 0 {
		t.Error("closed view still holds markers")
	}
	v.Apply(movingRider("r2", 43.27, -2.94, 0), now)
	if v.MarkerCount() != 0 {
		t.Error("closed view accepted an update")
	}
}
