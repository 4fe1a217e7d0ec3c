package geo

import "math"

const (
	// Equator is the Web Mercator world width in meters
	Equator = 40075016.685578

	// TileSize is the pixel size of a zoom 0 world, matching the map widget
	TileSize = 256

	// MaxLatitude is the Web Mercator latitude limit
	MaxLatitude = 85.0511287798

	MinZoom = 0
	MaxZoom = 23

	// EPSG codes used when requesting imagery
	EpsgWGS84       = 4326
	EpsgWebMercator = 3857
)

// WebMercator represents coordinates in Web Mercator projection (EPSG:3857)
type WebMercator struct {
	X float64 // meters east
	Y float64 // meters north
}

// Wgs84 represents WGS84 lat/lon coordinates
type Wgs84 struct {
	Lat float64
	Lon float64
}

// ToWgs84 converts Web Mercator to WGS84
func (m WebMercator) ToWgs84() Wgs84 {
	lon := m.X / Equator * 360.0
	lat := math.Atan(math.Sinh(m.Y/Equator*2*math.Pi)) * 180.0 / math.Pi
	return Wgs84{Lat: lat, Lon: lon}
}

// ToWebMercator converts WGS84 to Web Mercator.
// Latitudes beyond the projection limit are clamped.
func (w Wgs84) ToWebMercator() WebMercator {
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, w.Lat))
	x := w.Lon / 360.0 * Equator
	latRad := lat * math.Pi / 180.0
	y := math.Log(math.Tan(math.Pi/4+latRad/2)) / (2 * math.Pi) * Equator
	return WebMercator{X: x, Y: y}
}

// worldPixels returns the size in pixels of the whole world at a (possibly fractional) zoom
func worldPixels(zoom float64) float64 {
	return TileSize * math.Pow(2, zoom)
}

// toWorldPixel converts a Web Mercator coordinate to a global pixel position at the given scale
func (m WebMercator) toWorldPixel(scale float64) (px, py float64) {
	px = (0.5 + m.X/Equator) * scale
	py = (0.5 - m.Y/Equator) * scale
	return px, py
}

// fromWorldPixel converts a global pixel position back to Web Mercator
func fromWorldPixel(px, py, scale float64) WebMercator {
	return WebMercator{
		X: (px/scale - 0.5) * Equator,
		Y: (0.5 - py/scale) * Equator,
	}
}

// ResolutionAtZoom returns approximate meters per pixel at given zoom level and latitude
func ResolutionAtZoom(zoom, lat float64) float64 {
	return Equator * math.Cos(lat*math.Pi/180.0) / worldPixels(zoom)
}
