package imagery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"trainz-basemap/internal/geo"
)

const (
	// DefaultExportURL is the World Imagery static export endpoint
	DefaultExportURL = "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/export"

	DefaultSize = 1024
)

// AllowedSizes are the square output sizes (in pixels) a request may ask for
var AllowedSizes = []int{512, 1024, 2048}

// IsAllowedSize reports whether size is one of AllowedSizes
func IsAllowedSize(size int) bool {
	return lo.Contains(AllowedSizes, size)
}

// ExportRequest is a fully specified static image export request.
// It is built fresh for every generate action and never modified afterwards.
type ExportRequest struct {
	BBox       geo.BoundingBox `json:"bbox"`
	OutputSize int             `json:"outputSize"`
	BBoxSR     int             `json:"bboxSR"`
	ImageSR    int             `json:"imageSR"`
	Format     Format          `json:"format"`
}

// BuildRequest validates the inputs and fixes the spatial references:
// the box is always given in EPSG:4326 and the image rendered in EPSG:3857.
func BuildRequest(bbox geo.BoundingBox, outputSize int, format Format) (ExportRequest, error) {
	if !IsAllowedSize(outputSize) {
		return ExportRequest{}, &InvalidSizeError{Size: outputSize}
	}
	if err := bbox.Validate(); err != nil {
		return ExportRequest{}, fmt.Errorf("invalid bounding box: %w", err)
	}
	if format == "" {
		format = FormatMixed
	}

	return ExportRequest{
		BBox:       bbox,
		OutputSize: outputSize,
		BBoxSR:     geo.EpsgWGS84,
		ImageSR:    geo.EpsgWebMercator,
		Format:     format,
	}, nil
}

// BBoxParam encodes the box as west,south,east,north at full precision
func (r ExportRequest) BBoxParam() string {
	parts := []float64{r.BBox.West, r.BBox.South, r.BBox.East, r.BBox.North}
	return strings.Join(lo.Map(parts, func(v float64, _ int) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}), ",")
}

// SizeParam encodes the square output size as "N,N"
func (r ExportRequest) SizeParam() string {
	return fmt.Sprintf("%d,%d", r.OutputSize, r.OutputSize)
}

// Query returns the export query parameters
func (r ExportRequest) Query() url.Values {
	q := url.Values{}
	q.Set("bbox", r.BBoxParam())
	q.Set("bboxSR", strconv.Itoa(r.BBoxSR))
	q.Set("size", r.SizeParam())
	q.Set("imageSR", strconv.Itoa(r.ImageSR))
	q.Set("format", r.Format.ExportParam())
	q.Set("f", "image")
	return q
}

// URL serializes the request against an export endpoint.
// url.Values.Encode sorts keys, so identical requests always produce identical URLs.
func (r ExportRequest) URL(endpoint string) string {
	if endpoint == "" {
		endpoint = DefaultExportURL
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + r.Query().Encode()
}

// CacheKey identifies the request's serialized form against an endpoint
func (r ExportRequest) CacheKey(endpoint string) string {
	sum := sha256.Sum256([]byte(r.URL(endpoint)))
	return hex.EncodeToString(sum[:])
}
