package main

import (
	"fmt"
	"os"
	"os/exec"
	goruntime "runtime"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"trainz-basemap/internal/config"
	"trainz-basemap/internal/logging"
)

// ===================
// Settings Management
// ===================

// GetSettings returns current user settings
func (a *App) GetSettings() (*config.UserSettings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	return &settingsCopy, nil
}

// SaveSettings validates and persists settings. Endpoint, timeout and the cache toggle
// apply to the next generate; cache size and TTL of an open cache apply on restart.
func (a *App) SaveSettings(settings *config.UserSettings) error {
	if settings == nil {
		return fmt.Errorf("settings are missing")
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Never let the frontend drop the install id
	if settings.InstallID == "" {
		settings.InstallID = a.settings.InstallID
	}

	if err := config.SaveTo(a.settingsPath, settings); err != nil {
		return err
	}

	a.settings = settings
	if settings.CacheEnabled && a.responseCache == nil {
		a.responseCache = openCache(a.cacheDir, settings)
	}
	a.imageryClient = a.buildImageryClient(settings)
	logging.SetLogLevel(settings.Log.Level)

	logging.Info("Settings saved", "path", a.settingsPath, "endpoint", a.imageryClient.Endpoint())
	return nil
}

// GetSettingsPath returns the settings file path
func (a *App) GetSettingsPath() string {
	return a.settingsPath
}

// SaveMapPosition remembers the last viewed location. The map fires this on every
// move; writes are debounced.
func (a *App) SaveMapPosition(lat, lon float64, zoom int) {
	a.mu.Lock()
	a.settings.LastCenterLat = lat
	a.settings.LastCenterLon = lon
	a.settings.LastZoom = zoom
	a.mu.Unlock()

	a.debouncedSave(a.flushSettings)
}

func (a *App) flushSettings() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := config.SaveTo(a.settingsPath, a.settings); err != nil {
		logging.Warn("Failed to save map position", "error", err)
		return
	}
	logging.Debug("Saved map position",
		"lat", a.settings.LastCenterLat,
		"lon", a.settings.LastCenterLon,
		"zoom", a.settings.LastZoom)
}

// GetDownloadPath returns the default folder offered when saving packages
func (a *App) GetDownloadPath() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings.DownloadPath
}

// SetDownloadPath sets the download directory
func (a *App) SetDownloadPath(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings.DownloadPath = path
	return config.SaveTo(a.settingsPath, a.settings)
}

// SelectDownloadFolder opens a folder picker dialog
func (a *App) SelectDownloadFolder() (string, error) {
	if a.openDialog == nil {
		return "", fmt.Errorf("folder dialog is not available")
	}

	path, err := a.openDialog(wailsRuntime.OpenDialogOptions{
		Title:            "Select Download Folder",
		DefaultDirectory: a.GetDownloadPath(),
	})
	if err != nil {
		return "", err
	}

	if path != "" {
		if err := a.SetDownloadPath(path); err != nil {
			return "", err
		}
	}
	return path, nil
}

// OpenDownloadFolder opens the download folder in the system file manager
func (a *App) OpenDownloadFolder() error {
	path := a.GetDownloadPath()

	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default: // Linux and others
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}
