package cache

import (
	"os"
	"path/filepath"
	goruntime "runtime"
)

// AppName names the per-user cache folder
const AppName = "trainz-basemap"

// DefaultDir returns the OS-specific cache directory for export responses
func DefaultDir() string {
	homeDir, _ := os.UserHomeDir()

	switch goruntime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Caches", AppName, "exports")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(appData, AppName, "cache", "exports")
	default:
		cacheHome := os.Getenv("XDG_CACHE_HOME")
		if cacheHome == "" {
			cacheHome = filepath.Join(homeDir, ".cache")
		}
		return filepath.Join(cacheHome, AppName, "exports")
	}
}
