// Package session owns the single fetched image between a generate action and the
// export that packages it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"trainz-basemap/internal/bundle"
	"trainz-basemap/internal/descriptor"
	"trainz-basemap/internal/geo"
	"trainz-basemap/internal/imagery"
	"trainz-basemap/internal/logging"
)

var (
	// ErrNoArtifact is returned by Export before any successful generate
	ErrNoArtifact = errors.New("no image fetched yet: generate first")

	// ErrGenerateInProgress is returned when a generate is already running
	ErrGenerateInProgress = errors.New("a generate is already in progress")
)

// Fetcher retrieves the image for an export request
type Fetcher interface {
	Fetch(ctx context.Context, r imagery.ExportRequest) (*imagery.Artifact, error)
}

// GenerateInput describes one generate action
type GenerateInput struct {
	Crop       geo.ViewportRect
	Projector  geo.Projector
	OutputSize int
	Format     imagery.Format
}

// Result describes a finished export
type Result struct {
	Path      string   `json:"path"`
	Bytes     int      `json:"bytes"`
	Entries   []string `json:"entries"`
	Cancelled bool     `json:"cancelled"`
}

// Session holds at most one artifact. A successful generate replaces it; nothing else does.
type Session struct {
	fetcher Fetcher
	sink    bundle.Sink

	generating *semaphore.Weighted

	mu       sync.RWMutex
	artifact *imagery.Artifact
	bbox     geo.BoundingBox
}

// New creates a session that fetches through fetcher and delivers archives to sink
func New(fetcher Fetcher, sink bundle.Sink) *Session {
	return &Session{
		fetcher:    fetcher,
		sink:       sink,
		generating: semaphore.NewWeighted(1),
	}
}

// SetSink replaces the archive destination
func (s *Session) SetSink(sink bundle.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Generate maps the crop to a bounding box, builds the export request and fetches it.
// The held artifact is replaced only when the fetch succeeds.
func (s *Session) Generate(ctx context.Context, in GenerateInput) (*imagery.Artifact, error) {
	if !s.generating.TryAcquire(1) {
		return nil, ErrGenerateInProgress
	}
	defer s.generating.Release(1)

	bbox, err := geo.MapToBBox(in.Crop, in.Projector)
	if err != nil {
		return nil, err
	}

	req, err := imagery.BuildRequest(bbox, in.OutputSize, in.Format)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	artifact, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		logging.Warn("Image fetch failed", "bbox", bbox.String(), "error", err)
		return nil, err
	}

	s.mu.Lock()
	s.artifact = artifact
	s.bbox = bbox
	s.mu.Unlock()

	logging.Info("Image fetched",
		"bbox", bbox.String(),
		"size", artifact.RequestedSize,
		"bytes", len(artifact.ImageBytes),
		"cached", artifact.FromCache,
		"duration", time.Since(start).String())

	return artifact, nil
}

// ExportReady reports whether an artifact is held
func (s *Session) ExportReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifact != nil
}

// Artifact returns the held artifact, or nil
func (s *Session) Artifact() *imagery.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifact
}

// BoundingBox returns the box of the held artifact
func (s *Session) BoundingBox() (geo.BoundingBox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bbox, s.artifact != nil
}

// Build renders the descriptors, makes the thumbnail and serializes the package for the held artifact
func (s *Session) Build(meta descriptor.Metadata) (*bundle.Package, []byte, error) {
	artifact := s.Artifact()
	if artifact == nil {
		return nil, nil, ErrNoArtifact
	}

	set, err := descriptor.Render(meta, artifact.RequestedSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to render descriptors: %w", err)
	}

	thumb, err := bundle.Thumbnail(artifact.ImageBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create thumbnail: %w", err)
	}

	pkg, err := bundle.Assemble(artifact.ImageBytes, thumb, set)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to assemble package: %w", err)
	}

	data, err := pkg.Serialize()
	if err != nil {
		return nil, nil, err
	}
	return pkg, data, nil
}

// Export builds the package and hands it to the sink. The artifact stays held, so
// the same image can be exported again with different metadata.
func (s *Session) Export(ctx context.Context, meta descriptor.Metadata) (*Result, error) {
	pkg, data, err := s.Build(meta)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()
	if sink == nil {
		return nil, fmt.Errorf("no destination configured for the archive")
	}

	path, err := sink.Save(ctx, data, bundle.ArchiveName)
	if err != nil {
		return nil, fmt.Errorf("failed to save archive: %w", err)
	}

	result := &Result{
		Path:      path,
		Bytes:     len(data),
		Entries:   pkg.Names(),
		Cancelled: path == "",
	}
	if result.Cancelled {
		logging.Info("Export cancelled by user")
	} else {
		logging.Info("Package exported", "path", path, "bytes", len(data))
	}
	return result, nil
}
