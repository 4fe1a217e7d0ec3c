// Package descriptor renders the text files a Trainz asset needs next to its texture:
// the asset config, the texture reference and the placeholder mesh.
//
// Output is byte-for-byte deterministic for a given Metadata; the downstream tool
// treats the layout as its compatibility contract.
package descriptor

import (
	"fmt"
	"strings"

	"github.com/valyala/fasttemplate"
)

// Defaults substituted for blank metadata fields
const (
	DefaultIdentifier   = "<kuid:xxxx:xxxx>"
	DefaultAuthor       = "Author"
	DefaultPublisher    = "Publisher"
	DefaultDescription  = ""
	DefaultBuildVersion = "2.9"
)

// File names referenced from inside the descriptors
const (
	ImageFile     = "basemap.png"
	ThumbnailFile = "thumbnail.jpg"
	MeshFile      = "basemap.im"

	ThumbnailWidth  = 240
	ThumbnailHeight = 180
)

// Metadata is the user-supplied package identity
type Metadata struct {
	Identifier   string `json:"identifier"`
	Author       string `json:"author"`
	Publisher    string `json:"publisher"`
	Description  string `json:"description"`
	BuildVersion string `json:"buildVersion"`
}

// Set holds the three rendered descriptor texts
type Set struct {
	Config     string
	TextureRef string
	Mesh       string
}

const configTemplate = `
kuid               [[identifier]]
description        [[description]]
username           [[username]]
trainz-build       [[build]]
kind               "scenery"
author             [[author]]
publisher          [[publisher]]

mesh-table
{
  default
  {
    mesh           "[[mesh]]"
    auto-create    1
  }
}
light              1

thumbnails
{
  0
  {
    image          "[[thumbnail]]"
    width          [[thumbWidth]]
    height         [[thumbHeight]]
  }
}

kuid-table
{
}
`

const textureRef = "Primary=" + ImageFile + "\nTile=st\n"

// meshPlaceholder is a flat unit quad: 4 vertices, 2 triangles
const meshPlaceholder = `imfileversion 1.0
mesh
{
vertex 4
{ -0.5,0,-0.5 }
{ 0.5,0,-0.5 }
{ 0.5,0,0.5 }
{ -0.5,0,0.5 }
poly 2
{ 0,1,2 }
{ 0,2,3 }
}
`

var configTpl = fasttemplate.New(configTemplate, "[[", "]]")

// WithDefaults returns a copy with every blank field replaced by its default
func (m Metadata) WithDefaults() Metadata {
	return Metadata{
		Identifier:   orDefault(m.Identifier, DefaultIdentifier),
		Author:       orDefault(m.Author, DefaultAuthor),
		Publisher:    orDefault(m.Publisher, DefaultPublisher),
		Description:  orDefault(m.Description, DefaultDescription),
		BuildVersion: orDefault(m.BuildVersion, DefaultBuildVersion),
	}
}

func orDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

// Quote wraps a value in double quotes, escaping backslashes and embedded quotes
// so a user's text can never terminate the string early.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
		case '\n', '\r':
			// Config values are single-line
			r = ' '
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// bareToken keeps unquoted values on one line
func bareToken(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// Render produces the descriptor set for an image of imageSize pixels.
// The thumbnail dimensions are fixed and do not depend on imageSize.
func Render(meta Metadata, imageSize int) (*Set, error) {
	if imageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", imageSize)
	}

	m := meta.WithDefaults()
	config := configTpl.ExecuteString(map[string]interface{}{
		"identifier":  bareToken(m.Identifier),
		"description": Quote(m.Description),
		"username":    Quote(m.Identifier),
		"build":       bareToken(m.BuildVersion),
		"author":      Quote(m.Author),
		"publisher":   Quote(m.Publisher),
		"mesh":        MeshFile,
		"thumbnail":   ThumbnailFile,
		"thumbWidth":  fmt.Sprint(ThumbnailWidth),
		"thumbHeight": fmt.Sprint(ThumbnailHeight),
	})

	return &Set{
		Config:     config,
		TextureRef: textureRef,
		Mesh:       meshPlaceholder,
	}, nil
}
