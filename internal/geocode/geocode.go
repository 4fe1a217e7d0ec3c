// Package geocode resolves free-text place names through a Nominatim search endpoint.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"

	"trainz-basemap/internal/logging"
)

const (
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// UserAgent identifies the application, as the Nominatim usage policy requires
	UserAgent = "trainz-basemap/1.0"

	cacheSize = 128
)

// ErrNotFound is returned when a query has no results
var ErrNotFound = errors.New("not found")

// Candidate is one search result
type Candidate struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"displayName"`
}

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Client queries a Nominatim instance and caches answers in memory
type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      *lru.Cache[string, []Candidate]
}

// NewClient creates a geocoder for baseURL; an empty baseURL uses the public instance
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cache, _ := lru.New[string, []Candidate](cacheSize)

	return &Client{
		httpClient: &http.Client{
			Timeout:   15 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   cache,
	}
}

// Search returns the candidates for query in relevance order
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}

	key := strings.ToLower(query)
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", query)
	searchURL := c.baseURL + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed with status: %d", resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	candidates := lo.FilterMap(places, func(p place, _ int) (Candidate, bool) {
		lat, errLat := strconv.ParseFloat(p.Lat, 64)
		lon, errLon := strconv.ParseFloat(p.Lon, 64)
		if errLat != nil || errLon != nil {
			return Candidate{}, false
		}
		return Candidate{Lat: lat, Lon: lon, DisplayName: p.DisplayName}, true
	})
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}

	logging.Debug("Geocode search", "query", query, "results", len(candidates))
	c.cache.Add(key, candidates)
	return candidates, nil
}

// First returns the best candidate for query
func (c *Client) First(ctx context.Context, query string) (*Candidate, error) {
	candidates, err := c.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return &candidates[0], nil
}
