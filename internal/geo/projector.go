package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Projector converts a pixel position relative to the map container's top-left corner
// into a geographic point (orb.Point is {lon, lat}).
type Projector interface {
	ContainerPointToLatLng(p orb.Point) (orb.Point, error)
}

// ProjectorFunc adapts a plain function to the Projector interface
type ProjectorFunc func(p orb.Point) (orb.Point, error)

// ContainerPointToLatLng implements Projector
func (f ProjectorFunc) ContainerPointToLatLng(p orb.Point) (orb.Point, error) {
	return f(p)
}

// MapView is the view state reported by the map widget: where it is centered,
// its zoom and the pixel size of its container.
type MapView struct {
	CenterLat float64 `json:"centerLat"`
	CenterLon float64 `json:"centerLon"`
	Zoom      float64 `json:"zoom"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

// Validate reports whether the view can be used for projection
func (v MapView) Validate() error {
	if v.Width <= 0 || v.Height <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("map container has no size (%gx%g)", v.Width, v.Height)}
	}
	if math.IsNaN(v.Zoom) || v.Zoom < MinZoom || v.Zoom > MaxZoom {
		return &ConfigurationError{Reason: fmt.Sprintf("zoom %g out of range [%d, %d]", v.Zoom, MinZoom, MaxZoom)}
	}
	if math.IsNaN(v.CenterLat) || math.IsNaN(v.CenterLon) || v.CenterLat < -90 || v.CenterLat > 90 {
		return &ConfigurationError{Reason: fmt.Sprintf("invalid map center (%g, %g)", v.CenterLat, v.CenterLon)}
	}
	return nil
}

// ContainerPointToLatLng projects a container pixel through spherical Web Mercator,
// the same way the map widget places its tiles.
func (v MapView) ContainerPointToLatLng(p orb.Point) (orb.Point, error) {
	if err := v.Validate(); err != nil {
		return orb.Point{}, err
	}

	scale := worldPixels(v.Zoom)
	cx, cy := Wgs84{Lat: v.CenterLat, Lon: v.CenterLon}.ToWebMercator().toWorldPixel(scale)

	// Container origin in global pixels
	originX := cx - v.Width/2
	originY := cy - v.Height/2

	w := fromWorldPixel(originX+p.X(), originY+p.Y(), scale).ToWgs84()
	return orb.Point{w.Lon, w.Lat}, nil
}
