package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainz-basemap/internal/bundle"
	"trainz-basemap/internal/descriptor"
	"trainz-basemap/internal/geo"
	"trainz-basemap/internal/imagery"
)

type fetcherFunc func(ctx context.Context, r imagery.ExportRequest) (*imagery.Artifact, error)

func (f fetcherFunc) Fetch(ctx context.Context, r imagery.ExportRequest) (*imagery.Artifact, error) {
	return f(ctx, r)
}

type memorySink struct {
	calls int
	name  string
	data  []byte
	path  string
}

func (m *memorySink) Save(_ context.Context, data []byte, filename string) (string, error) {
	m.calls++
	m.name = filename
	m.data = data
	return m.path, nil
}

func squarePNG(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, size, size))))
	return buf.Bytes()
}

func scenarioInput() GenerateInput {
	return GenerateInput{
		Crop: geo.ViewportRect{X: 100, Y: 100, Width: 200, Height: 200},
		Projector: geo.ProjectorFunc(func(p orb.Point) (orb.Point, error) {
			if p.X() < 200 {
				return orb.Point{20, 10}, nil
			}
			return orb.Point{25, 5}, nil
		}),
		OutputSize: 1024,
		Format:     imagery.FormatMixed,
	}
}

func TestExport_WithoutArtifactFails(t *testing.T) {
	sink := &memorySink{path: "/tmp/out.zip"}
	fetched := false
	s := New(fetcherFunc(func(context.Context, imagery.ExportRequest) (*imagery.Artifact, error) {
		fetched = true
		return nil, errors.New("unexpected")
	}), sink)

	assert.False(t, s.ExportReady())
	_, err := s.Export(context.Background(), descriptor.Metadata{})
	assert.ErrorIs(t, err, ErrNoArtifact)
	assert.Zero(t, sink.calls)
	assert.False(t, fetched)
}

func TestGenerate_BuildsRequestFromCrop(t *testing.T) {
	var got imagery.ExportRequest
	s := New(fetcherFunc(func(_ context.Context, r imagery.ExportRequest) (*imagery.Artifact, error) {
		got = r
		return &imagery.Artifact{ImageBytes: []byte("img"), RequestedSize: r.OutputSize, Request: r}, nil
	}), nil)

	artifact, err := s.Generate(context.Background(), scenarioInput())
	require.NoError(t, err)

	assert.Equal(t, geo.BoundingBox{West: 20, South: 5, East: 25, North: 10}, got.BBox)
	assert.Equal(t, "20,5,25,10", got.BBoxParam())
	assert.Equal(t, 4326, got.BBoxSR)
	assert.Equal(t, 3857, got.ImageSR)
	assert.Equal(t, 1024, artifact.RequestedSize)
	assert.True(t, s.ExportReady())
	assert.Same(t, artifact, s.Artifact())

	bbox, ok := s.BoundingBox()
	assert.True(t, ok)
	assert.Equal(t, got.BBox, bbox)
}

func TestGenerate_HTTPErrorLeavesNoArtifact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := New(imagery.NewClient(server.URL), nil)
	_, err := s.Generate(context.Background(), scenarioInput())

	var httpErr *imagery.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.StatusCode)
	assert.False(t, s.ExportReady())
}

func TestGenerate_FailureKeepsPriorArtifact(t *testing.T) {
	fail := false
	s := New(fetcherFunc(func(_ context.Context, r imagery.ExportRequest) (*imagery.Artifact, error) {
		if fail {
			return nil, imagery.ErrEmptyResult
		}
		return &imagery.Artifact{ImageBytes: []byte("first"), RequestedSize: r.OutputSize}, nil
	}), nil)

	first, err := s.Generate(context.Background(), scenarioInput())
	require.NoError(t, err)

	fail = true
	_, err = s.Generate(context.Background(), scenarioInput())
	assert.ErrorIs(t, err, imagery.ErrEmptyResult)
	assert.Same(t, first, s.Artifact())
}

func TestGenerate_ReplacesArtifact(t *testing.T) {
	var n int32
	s := New(fetcherFunc(func(_ context.Context, r imagery.ExportRequest) (*imagery.Artifact, error) {
		atomic.AddInt32(&n, 1)
		return &imagery.Artifact{ImageBytes: []byte{byte(n)}, RequestedSize: r.OutputSize}, nil
	}), nil)

	_, err := s.Generate(context.Background(), scenarioInput())
	require.NoError(t, err)
	in := scenarioInput()
	in.OutputSize = 2048
	second, err := s.Generate(context.Background(), in)
	require.NoError(t, err)

	assert.Same(t, second, s.Artifact())
	assert.Equal(t, 2048, s.Artifact().RequestedSize)
}

func TestGenerate_RejectsInvalidInput(t *testing.T) {
	s := New(fetcherFunc(func(context.Context, imagery.ExportRequest) (*imagery.Artifact, error) {
		t.Fatal("fetch must not be called")
		return nil, nil
	}), nil)

	in := scenarioInput()
	in.Projector = nil
	_, err := s.Generate(context.Background(), in)
	var cfgErr *geo.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	in = scenarioInput()
	in.OutputSize = 300
	_, err = s.Generate(context.Background(), in)
	var sizeErr *imagery.InvalidSizeError
	assert.ErrorAs(t, err, &sizeErr)

	in = scenarioInput()
	in.Crop.Height = 150
	_, err = s.Generate(context.Background(), in)
	assert.ErrorIs(t, err, geo.ErrInvalidRect)
}

func TestGenerate_SingleInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := New(fetcherFunc(func(_ context.Context, r imagery.ExportRequest) (*imagery.Artifact, error) {
		close(started)
		<-release
		return &imagery.Artifact{ImageBytes: []byte("img"), RequestedSize: r.OutputSize}, nil
	}), nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.Generate(context.Background(), scenarioInput())
		done <- err
	}()
	<-started

	_, err := s.Generate(context.Background(), scenarioInput())
	assert.ErrorIs(t, err, ErrGenerateInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.True(t, s.ExportReady())
}

func TestExport_ProducesFiveEntryArchive(t *testing.T) {
	sink := &memorySink{path: "/downloads/trainz_basemap.zip"}
	imgBytes := squarePNG(t, 32)
	s := New(fetcherFunc(func(_ context.Context, r imagery.ExportRequest) (*imagery.Artifact, error) {
		return &imagery.Artifact{ImageBytes: imgBytes, RequestedSize: r.OutputSize}, nil
	}), sink)

	_, err := s.Generate(context.Background(), scenarioInput())
	require.NoError(t, err)

	result, err := s.Export(context.Background(), descriptor.Metadata{Author: "Jane"})
	require.NoError(t, err)

	assert.Equal(t, "/downloads/trainz_basemap.zip", result.Path)
	assert.False(t, result.Cancelled)
	assert.Equal(t, bundle.ArchiveName, sink.name)
	assert.Equal(t, len(sink.data), result.Bytes)
	assert.Equal(t, []string{"basemap.png", "thumbnail.jpg", "basemap.texture.txt", "config.txt", "basemap.im"}, result.Entries)

	zr, err := zip.NewReader(bytes.NewReader(sink.data), int64(len(sink.data)))
	require.NoError(t, err)
	assert.Len(t, zr.File, 5)

	// The artifact survives export
	assert.True(t, s.ExportReady())
	_, err = s.Export(context.Background(), descriptor.Metadata{Author: "Someone else"})
	require.NoError(t, err)
	assert.Equal(t, 2, sink.calls)
}

func TestExport_CancelledSave(t *testing.T) {
	sink := &memorySink{path: ""}
	s := New(fetcherFunc(func(_ context.Context, r imagery.ExportRequest) (*imagery.Artifact, error) {
		return &imagery.Artifact{ImageBytes: squarePNG(t, 8), RequestedSize: r.OutputSize}, nil
	}), sink)
	_, err := s.Generate(context.Background(), scenarioInput())
	require.NoError(t, err)

	result, err := s.Export(context.Background(), descriptor.Metadata{})
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
}

func TestExport_UndecodableImageFailsBeforeSink(t *testing.T) {
	sink := &memorySink{path: "/x.zip"}
	s := New(fetcherFunc(func(_ context.Context, r imagery.ExportRequest) (*imagery.Artifact, error) {
		return &imagery.Artifact{ImageBytes: []byte("not an image"), RequestedSize: r.OutputSize}, nil
	}), sink)
	_, err := s.Generate(context.Background(), scenarioInput())
	require.NoError(t, err)

	_, err = s.Export(context.Background(), descriptor.Metadata{})
	assert.Error(t, err)
	assert.Zero(t, sink.calls)
}

func TestGenerate_MapPannedPastAntimeridian(t *testing.T) {
	var got imagery.ExportRequest
	s := New(fetcherFunc(func(_ context.Context, r imagery.ExportRequest) (*imagery.Artifact, error) {
		got = r
		return &imagery.Artifact{ImageBytes: []byte("img"), RequestedSize: r.OutputSize, Request: r}, nil
	}), nil)

	_, err := s.Generate(context.Background(), GenerateInput{
		Crop:       geo.ViewportRect{X: 292.5, Y: 192.5, Width: 315, Height: 315},
		Projector:  geo.MapView{CenterLat: 0, CenterLon: 200, Zoom: 10, Width: 900, Height: 700},
		OutputSize: 1024,
		Format:     imagery.FormatMixed,
	})
	require.NoError(t, err)

	assert.InDelta(t, -160, got.BBox.Center().Lon(), 1e-6)
	assert.True(t, s.ExportReady())
}
