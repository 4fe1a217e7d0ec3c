package main

import (
	"trainz-basemap/internal/imagery"
	"trainz-basemap/internal/ratelimit"
)

// Rate Limit Management Functions (Wails-exported)

// GetRateLimitStatus returns the throttling state of the imagery service, or nil
func (a *App) GetRateLimitStatus() *ratelimit.Event {
	return a.rateLimitHandler.GetCurrentState(imagery.ProviderArcGIS)
}

// IsRateLimited reports whether the imagery service asked us to back off
func (a *App) IsRateLimited() bool {
	return a.rateLimitHandler.IsRateLimited(imagery.ProviderArcGIS)
}

// ClearRateLimit forgets the throttling state, e.g. after switching networks
func (a *App) ClearRateLimit() {
	a.rateLimitHandler.Clear(imagery.ProviderArcGIS)
}

// Cache Management Functions (Wails-exported)

// CacheStats represents cache statistics for frontend
type CacheStats struct {
	Enabled   bool    `json:"enabled"`
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"sizeBytes"`
	MaxBytes  int64   `json:"maxBytes"`
	SizeMB    float64 `json:"sizeMB"`
	MaxMB     float64 `json:"maxMB"`
	CachePath string  `json:"cachePath"`
}

// GetCacheStats returns current cache statistics
func (a *App) GetCacheStats() CacheStats {
	a.mu.Lock()
	responseCache := a.responseCache
	a.mu.Unlock()
	if responseCache == nil {
		return CacheStats{}
	}

	stats := responseCache.Stats()
	return CacheStats{
		Enabled:   true,
		Entries:   stats.Entries,
		SizeBytes: stats.SizeBytes,
		MaxBytes:  stats.MaxBytes,
		SizeMB:    float64(stats.SizeBytes) / 1024 / 1024,
		MaxMB:     float64(stats.MaxBytes) / 1024 / 1024,
		CachePath: stats.Dir,
	}
}

// ClearCache removes all cached export images
func (a *App) ClearCache() error {
	a.mu.Lock()
	responseCache := a.responseCache
	a.mu.Unlock()
	if responseCache != nil {
		return responseCache.Clear()
	}
	return nil
}
