package geospatial_test

import (
	"math"
	"testing"

	"github.com/nimbuspos/dispatchboard/internal/pkg/geospatial"
)

func TestHaversine(t *testing.T) {
	// Plaza Moyúa to Bilbao Abando, roughly 350m.
	d := geospatial.Haversine(43.2630, -2.9350, 43.2609, -2.9323)
	if d < 250 || d > 450 {
		t.Errorf("distance = %.1f m, want roughly 350", d)
	}

	if d := geospatial.Haversine(43.26, -2.93, 43.26, -2.93); d != 0 {
		t.Errorf("zero distance = %v", d)
	}
}

func TestHeadingDelta(t *testing.T) {
	cases := []struct {
		from, to, want float64
	}{
		{350, 10, 20},   // clockwise through north
		{10, 350, -20},  // counter-clockwise through north
		{0, 180, 180},   // a half turn goes clockwise by convention
		{90, 90, 0},     // no turn
		{0, 270, -90},   // shorter to go counter-clockwise
		{270, 45, 135},  // wraps forward
		{45, 270, -135}, // and back
	}
	for _, c := range cases {
		if got := geospatial.HeadingDelta(c.from, c.to); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("HeadingDelta(%v, %v) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestNormalizeHeading(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{360, 0},
		{370, 10},
		{-10, 350},
		{-370, 350},
		{720, 0},
	}
	for _, c := range cases {
		if got := geospatial.NormalizeHeading(c.in); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("NormalizeHeading(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
