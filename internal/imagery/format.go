package imagery

import "fmt"

// Format is the raster output mode requested from the export endpoint
type Format string

const (
	FormatPNG   Format = "png"
	FormatJPG   Format = "jpg"
	FormatMixed Format = "mixed"
)

// ParseFormat converts a format string to a Format.
// An empty string selects FormatMixed.
func ParseFormat(format string) (Format, error) {
	switch format {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPG, nil
	case "mixed", "jpgpng", "":
		return FormatMixed, nil
	default:
		return "", fmt.Errorf("invalid format: %s (must be 'png', 'jpg', or 'mixed')", format)
	}
}

// ExportParam returns the value of the export endpoint's format parameter
func (f Format) ExportParam() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPG:
		return "jpg"
	default:
		return "jpgpng"
	}
}
