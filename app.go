package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/posthog/posthog-go"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"trainz-basemap/internal/bundle"
	"trainz-basemap/internal/cache"
	"trainz-basemap/internal/config"
	"trainz-basemap/internal/descriptor"
	"trainz-basemap/internal/geo"
	"trainz-basemap/internal/geocode"
	"trainz-basemap/internal/imagery"
	"trainz-basemap/internal/logging"
	"trainz-basemap/internal/ratelimit"
	"trainz-basemap/internal/session"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// Frontend events
const (
	EventStatus         = "status"
	EventExportEnabled  = "export-enabled"
	EventRateLimit      = "rate-limit"
	EventRateLimitClear = "rate-limit-cleared"
)

const mapPositionDelay = 750 * time.Millisecond

// GenerateRequest carries the crop overlay and map state at the moment the user clicks generate.
// Rectangles are in screen (client) pixels; the map view describes the projection.
type GenerateRequest struct {
	Crop       geo.ScreenRect `json:"crop"`
	Container  geo.ScreenRect `json:"container"`
	View       geo.MapView    `json:"view"`
	OutputSize int            `json:"outputSize"`
	Format     string         `json:"format"`
}

// GenerateResult is what the frontend shows after a successful fetch
type GenerateResult struct {
	BBox      geo.BoundingBox `json:"bbox"`
	Label     string          `json:"label"`
	Size      int             `json:"size"`
	URL       string          `json:"url"`
	Bytes     int             `json:"bytes"`
	FromCache bool            `json:"fromCache"`
	// Ground resolution of the output image at the crop center
	MetersPerPixel float64 `json:"metersPerPixel"`
}

// Status is the state of the status area and export button
type Status struct {
	Message     string `json:"message"`
	ExportReady bool   `json:"exportReady"`
	Area        string `json:"area,omitempty"`
}

// App struct
type App struct {
	ctx          context.Context
	mu           sync.Mutex
	settings     *config.UserSettings
	settingsPath string
	cacheDir     string
	devMode      bool

	session          *session.Session
	imageryClient    *imagery.Client
	geocoder         *geocode.Client
	responseCache    *cache.ResponseCache
	rateLimitHandler *ratelimit.Handler
	phClient         posthog.Client

	debouncedSave func(f func())
	status        string

	// Replaced with Wails runtime calls on startup
	emit       func(event string, data ...interface{})
	saveDialog func(opts wailsRuntime.SaveDialogOptions) (string, error)
	openDialog func(opts wailsRuntime.OpenDialogOptions) (string, error)
}

// NewApp creates a new App application struct
func NewApp() *App {
	settingsPath := config.GetSettingsPath()
	settings := loadSettings(settingsPath)

	logging.InitLogger(settings.Log.File, settings.Log.MaxSizeMB, settings.Log.MaxBackups,
		settings.Log.MaxAgeDays, settings.Log.Compress, settings.Log.Level)
	logging.Info("Settings loaded", "path", settingsPath)

	var responseCache *cache.ResponseCache
	if settings.CacheEnabled {
		responseCache = openCache(cache.DefaultDir(), settings)
	}

	var phClient posthog.Client
	if PostHogKey != "" {
		client, err := posthog.NewWithConfig(PostHogKey, posthog.Config{Endpoint: PostHogHost})
		if err != nil {
			logging.Warn("Failed to initialize PostHog", "error", err)
		} else {
			phClient = client
		}
	}

	a := newApp(settings, settingsPath, responseCache)
	a.phClient = phClient
	return a
}

// loadSettings reads the settings file. An unreadable file is moved aside before falling back
// to defaults so the next save does not overwrite it.
func loadSettings(path string) *config.UserSettings {
	settings, err := config.LoadFrom(path)
	if err == nil {
		return settings
	}

	logging.Warn("Failed to load settings, using defaults", "error", err)
	if backup, berr := config.Backup(path); berr != nil {
		logging.Warn("Failed to back up settings file", "path", path, "error", berr)
	} else {
		logging.Info("Unreadable settings file moved aside", "backup", backup)
	}

	settings = config.DefaultSettings()
	settings.EnsureInstallID()
	return settings
}

// openCache returns nil when the cache cannot be created; fetches then go straight to the network
func openCache(dir string, s *config.UserSettings) *cache.ResponseCache {
	responseCache, err := cache.New(dir, s.CacheMaxSizeMB, s.CacheTTLDays)
	if err != nil {
		logging.Warn("Failed to initialize response cache", "error", err)
		return nil
	}
	logging.Info("Response cache initialized", "dir", dir, "maxMB", s.CacheMaxSizeMB)
	return responseCache
}

// newApp wires the application around already loaded settings
func newApp(settings *config.UserSettings, settingsPath string, responseCache *cache.ResponseCache) *App {
	a := &App{
		settings:         settings,
		settingsPath:     settingsPath,
		cacheDir:         cache.DefaultDir(),
		geocoder:         geocode.NewClient(""),
		responseCache:    responseCache,
		rateLimitHandler: ratelimit.NewHandler(),
		debouncedSave:    debounce.New(mapPositionDelay),
		emit:             func(string, ...interface{}) {},
	}

	a.rateLimitHandler.SetOnRateLimit(func(e ratelimit.Event) {
		a.emit(EventRateLimit, e)
	})
	a.rateLimitHandler.SetOnRecovered(func(provider string) {
		a.emit(EventRateLimitClear, provider)
	})

	a.imageryClient = a.buildImageryClient(settings)
	a.session = session.New(clientRef{a}, bundle.SinkFunc(a.saveArchive))
	return a
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.emit = func(event string, data ...interface{}) {
		wailsRuntime.EventsEmit(ctx, event, data...)
	}
	a.saveDialog = func(opts wailsRuntime.SaveDialogOptions) (string, error) {
		return wailsRuntime.SaveFileDialog(ctx, opts)
	}
	a.openDialog = func(opts wailsRuntime.OpenDialogOptions) (string, error) {
		return wailsRuntime.OpenDirectoryDialog(ctx, opts)
	}

	a.mu.Lock()
	downloadPath := a.settings.DownloadPath
	a.mu.Unlock()
	os.MkdirAll(downloadPath, 0755)

	a.TrackEvent("app_started", map[string]interface{}{
		"version": a.GetAppVersion(),
	})
}

// shutdown flushes settings and closes clients
func (a *App) shutdown(ctx context.Context) {
	a.mu.Lock()
	if err := config.SaveTo(a.settingsPath, a.settings); err != nil {
		logging.Warn("Failed to save settings on shutdown", "error", err)
	}
	a.mu.Unlock()

	if a.responseCache != nil {
		a.responseCache.Close()
	}
	if a.phClient != nil {
		a.phClient.Close()
	}
}

// clientRef resolves the imagery client at fetch time so settings changes apply to the next generate
type clientRef struct {
	a *App
}

func (c clientRef) Fetch(ctx context.Context, r imagery.ExportRequest) (*imagery.Artifact, error) {
	c.a.mu.Lock()
	client := c.a.imageryClient
	c.a.mu.Unlock()
	return client.Fetch(ctx, r)
}

func (a *App) buildImageryClient(s *config.UserSettings) *imagery.Client {
	client := imagery.NewClient(s.ExportEndpoint)
	if s.FetchTimeoutSeconds > 0 {
		client.SetTimeout(time.Duration(s.FetchTimeoutSeconds) * time.Second)
	}
	if s.CacheEnabled && a.responseCache != nil {
		client.SetCache(a.responseCache)
	}
	client.SetRateObserver(a.rateLimitHandler)
	return client
}

// TrackEvent sends an event to PostHog
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient == nil {
		return
	}
	a.mu.Lock()
	distinctID := a.settings.InstallID
	a.mu.Unlock()

	a.phClient.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
	})
}

// GetAppVersion returns the current application version
func (a *App) GetAppVersion() string {
	return AppVersion
}

// GetAllowedSizes returns the output sizes offered in the size selector
func (a *App) GetAllowedSizes() []int {
	return imagery.AllowedSizes
}

// GetStatus returns the current status message and whether export is possible
func (a *App) GetStatus() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := Status{
		Message:     a.status,
		ExportReady: a.session.ExportReady(),
	}
	if bbox, ok := a.session.BoundingBox(); ok {
		status.Area = bbox.String()
	}
	return status
}

func (a *App) setStatus(message string) {
	a.mu.Lock()
	a.status = message
	a.mu.Unlock()
	a.emit(EventStatus, message)
}

func (a *App) fail(action string, err error) error {
	logging.Error(action+" failed", "error", err)
	a.setStatus("Error: " + userMessage(err))
	return err
}

// userMessage turns the error taxonomy into the text shown in the status area
func userMessage(err error) string {
	var (
		cfgErr  *geo.ConfigurationError
		netErr  *imagery.NetworkError
		httpErr *imagery.HTTPError
		sizeErr *imagery.InvalidSizeError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "map is not ready: " + cfgErr.Reason
	case errors.Is(err, geo.ErrInvalidRect):
		return "the crop box must be a non-empty square"
	case errors.As(err, &httpErr):
		return fmt.Sprintf("HTTP %d", httpErr.StatusCode)
	case errors.As(err, &netErr):
		return "network error: " + netErr.Err.Error()
	case errors.Is(err, imagery.ErrEmptyResult):
		return "the imagery service returned an empty image"
	case errors.As(err, &sizeErr):
		return sizeErr.Error()
	case errors.Is(err, session.ErrNoArtifact):
		return "Generate first"
	case errors.Is(err, session.ErrGenerateInProgress):
		return "an image is already being fetched"
	case errors.Is(err, geocode.ErrNotFound):
		return "Not found"
	default:
		return err.Error()
	}
}

// Search geocodes query and returns the best match for re-centering the map
func (a *App) Search(query string) (*geocode.Candidate, error) {
	ctx := a.context()
	candidate, err := a.geocoder.First(ctx, query)
	if err != nil {
		if errors.Is(err, geocode.ErrNotFound) {
			a.setStatus("Not found")
			return nil, err
		}
		return nil, a.fail("Search", fmt.Errorf("search error: %w", err))
	}
	a.setStatus(candidate.DisplayName)
	return candidate, nil
}

// Generate fetches the image for the current crop. On failure any previously fetched
// image stays available for export.
func (a *App) Generate(req GenerateRequest) (*GenerateResult, error) {
	var format imagery.Format
	if strings.TrimSpace(req.Format) == "" {
		a.mu.Lock()
		format = a.settings.Format()
		a.mu.Unlock()
	} else {
		var err error
		if format, err = imagery.ParseFormat(req.Format); err != nil {
			return nil, a.fail("Generate", err)
		}
	}
	if err := req.View.Validate(); err != nil {
		return nil, a.fail("Generate", err)
	}

	a.setStatus("Fetching image...")

	artifact, err := a.session.Generate(a.context(), session.GenerateInput{
		Crop:       geo.ViewportFromScreen(req.Crop, req.Container),
		Projector:  req.View,
		OutputSize: req.OutputSize,
		Format:     format,
	})
	if err != nil {
		a.TrackEvent("generate_failed", map[string]interface{}{
			"size":  req.OutputSize,
			"error": userMessage(err),
		})
		return nil, a.fail("Generate", err)
	}

	bbox := artifact.Request.BBox
	result := &GenerateResult{
		BBox:      bbox,
		Label:     bbox.String(),
		Size:      artifact.RequestedSize,
		URL:       artifact.URL,
		Bytes:     len(artifact.ImageBytes),
		FromCache: artifact.FromCache,
	}
	if result.Size > 0 {
		result.MetersPerPixel = geo.ResolutionAtZoom(req.View.Zoom, bbox.Center().Lat()) *
			req.Crop.Width / float64(result.Size)
	}

	a.mu.Lock()
	a.settings.OutputSize = req.OutputSize
	a.settings.ImageFormat = string(format)
	a.mu.Unlock()

	a.setStatus(fmt.Sprintf("Image fetched: %d×%d\nURL: %s", result.Size, result.Size, result.URL))
	a.emit(EventExportEnabled, true)
	a.TrackEvent("generate_success", map[string]interface{}{
		"size":      result.Size,
		"format":    string(format),
		"fromCache": result.FromCache,
	})

	return result, nil
}

// Export packages the fetched image with descriptors built from meta and asks the user where to save it
func (a *App) Export(meta descriptor.Metadata) (*session.Result, error) {
	if !a.session.ExportReady() {
		return nil, a.fail("Export", session.ErrNoArtifact)
	}

	a.setStatus("Building ZIP...")

	result, err := a.session.Export(a.context(), meta)
	if err != nil {
		return nil, a.fail("Export", err)
	}
	if result.Cancelled {
		a.setStatus("Export cancelled")
		return result, nil
	}

	a.mu.Lock()
	a.settings.LastMetadata = descriptor.Metadata{
		Identifier:   meta.Identifier,
		Author:       meta.Author,
		Publisher:    meta.Publisher,
		BuildVersion: meta.BuildVersion,
	}
	a.mu.Unlock()

	a.setStatus("ZIP ready: " + result.Path)
	a.TrackEvent("export_completed", map[string]interface{}{
		"bytes": result.Bytes,
	})
	return result, nil
}

// GetLastMetadata returns the package identity used in the previous export
func (a *App) GetLastMetadata() descriptor.Metadata {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings.LastMetadata
}

// saveArchive asks the user for a destination, falling back to the download folder
// when no dialog is available.
func (a *App) saveArchive(ctx context.Context, data []byte, filename string) (string, error) {
	a.mu.Lock()
	downloadPath := a.settings.DownloadPath
	a.mu.Unlock()

	if a.saveDialog == nil {
		return bundle.DirSink{Dir: downloadPath}.Save(ctx, data, filename)
	}

	path, err := a.saveDialog(wailsRuntime.SaveDialogOptions{
		Title:            "Save Trainz package",
		DefaultDirectory: downloadPath,
		DefaultFilename:  filename,
		Filters: []wailsRuntime.FileFilter{
			{DisplayName: "Zip archive (*.zip)", Pattern: "*.zip"},
		},
	})
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", nil
	}
	if err := bundle.WriteFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func (a *App) context() context.Context {
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}
