package bundle

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"trainz-basemap/internal/descriptor"
)

// ThumbnailQuality is the JPEG quality used for the preview image
const ThumbnailQuality = 85

// Thumbnail scales the fetched image to exactly 240x180 and encodes it as JPEG.
// The aspect ratio of the source is not preserved.
func Thumbnail(imageBytes []byte) ([]byte, error) {
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("no image data")
	}

	src, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, descriptor.ThumbnailWidth, descriptor.ThumbnailHeight))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: ThumbnailQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
