package usecases

import (
	"time"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
	"github.com/nimbuspos/dispatchboard/internal/pkg/geospatial"
)

// Animation interpolates a marker between two authoritative position reports
// so that updates arriving every few seconds do not render as jumps. Position
// is interpolated linearly in lat/lon space, which is fine at city scale;
// heading follows the shorter angular path.
type Animation struct {
	From        domain.GeoPoint
	To          domain.GeoPoint
	FromHeading float64
	ToHeading   float64
	Start       time.Time
	Duration    time.Duration
}

// NewAnimation starts an interpolation at start.
func NewAnimation(from, to domain.GeoPoint, fromHeading, toHeading float64, start time.Time, duration time.Duration) *Animation {
	return &Animation{
		From:        from,
		To:          to,
		FromHeading: geospatial.NormalizeHeading(fromHeading),
		ToHeading:   geospatial.NormalizeHeading(toHeading),
		Start:       start,
		Duration:    duration,
	}
}

// At returns the rendered position and heading at now, and whether the
// animation has completed. On completion the exact target values are
// returned, eliminating any floating-point drift from the eased path.
func (a *Animation) At(now time.Time) (domain.GeoPoint, float64, bool) {
	if a.Duration <= 0 {
		return a.To, a.ToHeading, true
	}

	t := float64(now.Sub(a.Start)) / float64(a.Duration)
	if t >= 1 {
		return a.To, a.ToHeading, true
	}
	if t < 0 {
		t = 0
	}

	p := easeInOutQuad(t)

	pos := domain.GeoPoint{
		Lat: a.From.Lat + (a.To.Lat-a.From.Lat)*p,
		Lon: a.From.Lon + (a.To.Lon-a.From.Lon)*p,
	}

	delta := geospatial.HeadingDelta(a.FromHeading, a.ToHeading)
	heading := geospatial.NormalizeHeading(a.FromHeading + delta*p)

	return pos, heading, false
}

// easeInOutQuad accelerates through the first half and decelerates through
// the second.
func easeInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	u := 1 - t
	return 1 - 2*u*u
}
