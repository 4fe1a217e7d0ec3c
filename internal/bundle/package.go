// Package bundle assembles the fetched image and its descriptors into the
// archive handed to the user.
package bundle

import (
	"bytes"
	"fmt"
	"time"

	"github.com/klauspost/compress/zip"

	"trainz-basemap/internal/descriptor"
)

// ArchiveName is the file name offered when saving the package
const ArchiveName = "trainz_basemap.zip"

// Entry names inside the archive
const (
	ImageEntry      = descriptor.ImageFile
	ThumbnailEntry  = descriptor.ThumbnailFile
	TextureRefEntry = "basemap.texture.txt"
	ConfigEntry     = "config.txt"
	MeshEntry       = descriptor.MeshFile
)

// archiveTime is stamped on every entry so equal inputs serialize to equal bytes
var archiveTime = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// Entry is one named file in the package
type Entry struct {
	Name string
	Data []byte
}

// Package is the ordered set of files that make up a Trainz basemap asset
type Package struct {
	Entries []Entry
}

// Assemble builds the package from the fetched image, its thumbnail and the rendered descriptors
func Assemble(imageBytes, thumbnail []byte, set *descriptor.Set) (*Package, error) {
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("image is empty")
	}
	if len(thumbnail) == 0 {
		return nil, fmt.Errorf("thumbnail is empty")
	}
	if set == nil {
		return nil, fmt.Errorf("descriptors are missing")
	}

	return &Package{
		Entries: []Entry{
			{Name: ImageEntry, Data: imageBytes},
			{Name: ThumbnailEntry, Data: thumbnail},
			{Name: TextureRefEntry, Data: []byte(set.TextureRef)},
			{Name: ConfigEntry, Data: []byte(set.Config)},
			{Name: MeshEntry, Data: []byte(set.Mesh)},
		},
	}, nil
}

// Names lists the entry names in archive order
func (p *Package) Names() []string {
	names := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		names[i] = e.Name
	}
	return names
}

// Serialize writes the package as a zip archive with a flat layout
func (p *Package) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, e := range p.Entries {
		header := &zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: archiveTime,
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", e.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
