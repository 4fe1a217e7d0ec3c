// Package config persists user preferences as JSON in the user's home directory.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"trainz-basemap/internal/descriptor"
	"trainz-basemap/internal/geo"
	"trainz-basemap/internal/imagery"
)

// LogSettings controls the rotated log file
type LogSettings struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSizeMB  int    `json:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays"`
	Compress   bool   `json:"compress"`
}

// UserSettings represents persistent user preferences
type UserSettings struct {
	// Output
	DownloadPath   string `json:"downloadPath"`
	ExportEndpoint string `json:"exportEndpoint"`
	OutputSize     int    `json:"outputSize"`
	ImageFormat    string `json:"imageFormat"` // "png", "jpg" or "mixed"

	// Map
	DefaultCenterLat float64 `json:"defaultCenterLat"`
	DefaultCenterLon float64 `json:"defaultCenterLon"`
	DefaultZoom      int     `json:"defaultZoom"`
	LastCenterLat    float64 `json:"lastCenterLat,omitempty"`
	LastCenterLon    float64 `json:"lastCenterLon,omitempty"`
	LastZoom         int     `json:"lastZoom,omitempty"`

	// Cache
	CacheEnabled   bool `json:"cacheEnabled"`
	CacheMaxSizeMB int  `json:"cacheMaxSizeMB"`
	CacheTTLDays   int  `json:"cacheTTLDays"`

	// Network; zero means no bound
	FetchTimeoutSeconds int `json:"fetchTimeoutSeconds"`

	Log LogSettings `json:"log"`

	// Package identity remembered between sessions
	LastMetadata descriptor.Metadata `json:"lastMetadata"`

	InstallID string `json:"installId"`
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	homeDir, _ := os.UserHomeDir()

	return &UserSettings{
		DownloadPath:     filepath.Join(homeDir, "Downloads", "trainz-basemap"),
		ExportEndpoint:   imagery.DefaultExportURL,
		OutputSize:       imagery.DefaultSize,
		ImageFormat:      string(imagery.FormatMixed),
		DefaultCenterLat: -7.0,
		DefaultCenterLon: 110.4,
		DefaultZoom:      15,
		CacheEnabled:     true,
		CacheMaxSizeMB:   250,
		CacheTTLDays:     30,
		Log: LogSettings{
			File:       filepath.Join(baseDir(), "logs", "trainz-basemap.log"),
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

func baseDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".trainz-basemap")
}

// GetSettingsPath returns the settings file path, creating its directory
func GetSettingsPath() string {
	dir := filepath.Join(baseDir(), "settings")
	os.MkdirAll(dir, 0755)
	return filepath.Join(dir, "settings.json")
}

// Backup moves an unreadable settings file aside so saving defaults does not destroy it.
// It returns the backup path.
func Backup(path string) (string, error) {
	backup := path + ".bak"
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("failed to back up settings file: %w", err)
	}
	return backup, nil
}

// LoadFrom reads settings from path, returning defaults when the file does not exist.
// Missing fields are filled from defaults.
func LoadFrom(path string) (*UserSettings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s := DefaultSettings()
		s.EnsureInstallID()
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	// Decode over defaults so absent booleans keep their default value
	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	settings.mergeDefaults(DefaultSettings())
	settings.EnsureInstallID()

	return settings, nil
}

// SaveTo writes settings to path
func SaveTo(path string, settings *UserSettings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

func (s *UserSettings) mergeDefaults(defaults *UserSettings) {
	if s.DownloadPath == "" {
		s.DownloadPath = defaults.DownloadPath
	}
	if s.ExportEndpoint == "" {
		s.ExportEndpoint = defaults.ExportEndpoint
	}
	if s.OutputSize == 0 {
		s.OutputSize = defaults.OutputSize
	}
	if s.ImageFormat == "" {
		s.ImageFormat = defaults.ImageFormat
	}
	if s.DefaultZoom == 0 {
		s.DefaultZoom = defaults.DefaultZoom
	}
	if s.CacheMaxSizeMB == 0 {
		s.CacheMaxSizeMB = defaults.CacheMaxSizeMB
	}
	if s.Log.Level == "" {
		s.Log.Level = defaults.Log.Level
	}
	if s.Log.MaxSizeMB == 0 {
		s.Log.MaxSizeMB = defaults.Log.MaxSizeMB
	}
}

// EnsureInstallID assigns a random install id when none is set. It reports whether one was created.
func (s *UserSettings) EnsureInstallID() bool {
	if s.InstallID != "" {
		return false
	}
	s.InstallID = uuid.NewString()
	return true
}

// Format returns the parsed image format
func (s *UserSettings) Format() imagery.Format {
	f, err := imagery.ParseFormat(s.ImageFormat)
	if err != nil {
		return imagery.FormatMixed
	}
	return f
}

// Validate reports every invalid field at once
func (s *UserSettings) Validate() error {
	var errs []error

	if strings.TrimSpace(s.DownloadPath) == "" {
		errs = append(errs, errors.New("downloadPath is required"))
	}
	if u, err := url.Parse(s.ExportEndpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("exportEndpoint must be an http(s) URL: %q", s.ExportEndpoint))
	}
	if !imagery.IsAllowedSize(s.OutputSize) {
		errs = append(errs, fmt.Errorf("outputSize must be one of %v, got %d", imagery.AllowedSizes, s.OutputSize))
	}
	if _, err := imagery.ParseFormat(s.ImageFormat); err != nil {
		errs = append(errs, fmt.Errorf("imageFormat: %w", err))
	}
	if s.DefaultCenterLat < -90 || s.DefaultCenterLat > 90 {
		errs = append(errs, fmt.Errorf("defaultCenterLat out of range: %v", s.DefaultCenterLat))
	}
	if s.DefaultCenterLon < -180 || s.DefaultCenterLon > 180 {
		errs = append(errs, fmt.Errorf("defaultCenterLon out of range: %v", s.DefaultCenterLon))
	}
	if s.DefaultZoom < geo.MinZoom || s.DefaultZoom > geo.MaxZoom {
		errs = append(errs, fmt.Errorf("defaultZoom must be within %d-%d, got %d", geo.MinZoom, geo.MaxZoom, s.DefaultZoom))
	}
	if s.CacheMaxSizeMB < 0 {
		errs = append(errs, fmt.Errorf("cacheMaxSizeMB must not be negative"))
	}
	if s.CacheTTLDays < 0 {
		errs = append(errs, fmt.Errorf("cacheTTLDays must not be negative"))
	}
	if s.FetchTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("fetchTimeoutSeconds must not be negative"))
	}

	return errors.Join(errs...)
}
