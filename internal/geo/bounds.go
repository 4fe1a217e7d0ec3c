package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// squareTolerance is how far apart width and height may drift (in pixels)
// before a crop rectangle stops counting as square.
const squareTolerance = 0.5

// ScreenRect is an element rectangle in screen (client) coordinates
type ScreenRect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ViewportRect is the crop rectangle relative to the map container's top-left corner
type ViewportRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ViewportFromScreen converts the crop element's screen rectangle into container coordinates.
// The crop overlay and the map container do not necessarily share an origin.
func ViewportFromScreen(crop, container ScreenRect) ViewportRect {
	return ViewportRect{
		X:      crop.Left - container.Left,
		Y:      crop.Top - container.Top,
		Width:  crop.Width,
		Height: crop.Height,
	}
}

// Validate checks the rectangle is non-empty and square
func (r ViewportRect) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: size %gx%g", ErrInvalidRect, r.Width, r.Height)
	}
	if math.Abs(r.Width-r.Height) > squareTolerance {
		return fmt.Errorf("%w: %gx%g is not square", ErrInvalidRect, r.Width, r.Height)
	}
	return nil
}

// BoundingBox is a geographic box in decimal degrees
type BoundingBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// BoundingBoxFromBound converts an orb bound ({lon, lat} corners)
func BoundingBoxFromBound(b orb.Bound) BoundingBox {
	return BoundingBox{
		West:  b.Left(),
		South: b.Bottom(),
		East:  b.Right(),
		North: b.Top(),
	}
}

// Bound returns the box as an orb.Bound
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

// Center returns the box center as {lon, lat}
func (b BoundingBox) Center() orb.Point {
	return b.Bound().Center()
}

// Validate checks ordering and coordinate ranges
func (b BoundingBox) Validate() error {
	if b.West > b.East {
		return fmt.Errorf("west (%f) must not exceed east (%f)", b.West, b.East)
	}
	if b.South > b.North {
		return fmt.Errorf("south (%f) must not exceed north (%f)", b.South, b.North)
	}
	if b.South < -90 || b.North > 90 {
		return fmt.Errorf("latitude out of range [-90, 90]: south=%f, north=%f", b.South, b.North)
	}
	// East may pass 180 when the box crosses the antimeridian
	if b.West < -180 || b.West > 180 || b.East-b.West > 360 {
		return fmt.Errorf("longitude out of range: west=%f, east=%f", b.West, b.East)
	}
	return nil
}

// String renders the box for status messages, e.g. "5.0000N-10.0000N 20.0000E-25.0000E"
func (b BoundingBox) String() string {
	return fmt.Sprintf("%s-%s %s-%s",
		formatCoordinate(b.South, true),
		formatCoordinate(b.North, true),
		formatCoordinate(b.West, false),
		formatCoordinate(b.East, false))
}

// formatCoordinate drops the sign in favor of a N/S/E/W suffix
func formatCoordinate(coord float64, isLat bool) string {
	var dir string
	switch {
	case isLat && coord < 0:
		dir = "S"
	case isLat:
		dir = "N"
	case coord < 0:
		dir = "W"
	default:
		dir = "E"
	}
	return fmt.Sprintf("%.4f%s", math.Abs(coord), dir)
}

// MapToBBox projects the crop rectangle's top-left and bottom-right corners and sorts the
// results into a normalized box. Corner ordering is never assumed: the projection is not
// guaranteed to preserve it under every map state.
func MapToBBox(rect ViewportRect, projector Projector) (BoundingBox, error) {
	if projector == nil {
		return BoundingBox{}, &ConfigurationError{Reason: "map projector is not available"}
	}
	if err := rect.Validate(); err != nil {
		return BoundingBox{}, err
	}

	p1, err := projector.ContainerPointToLatLng(orb.Point{rect.X, rect.Y})
	if err != nil {
		return BoundingBox{}, fmt.Errorf("failed to project top-left corner: %w", err)
	}
	p2, err := projector.ContainerPointToLatLng(orb.Point{rect.X + rect.Width, rect.Y + rect.Height})
	if err != nil {
		return BoundingBox{}, fmt.Errorf("failed to project bottom-right corner: %w", err)
	}

	// Extend keeps per-axis min/max, which is exactly the normalization we need
	bound := orb.Bound{Min: p1, Max: p1}.Extend(p2)
	return BoundingBoxFromBound(bound).wrapLongitude(), nil
}

// wrapLongitude shifts both longitudes by the same multiple of 360 so West lands in [-180, 180).
// A map panned across the antimeridian reports longitudes past 180.
func (b BoundingBox) wrapLongitude() BoundingBox {
	shift := 360 * math.Floor((b.West+180)/360)
	b.West -= shift
	b.East -= shift
	return b
}
