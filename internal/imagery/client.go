package imagery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"trainz-basemap/internal/logging"
)

const (
	// ProviderArcGIS is the rate limit provider key for the export endpoint
	ProviderArcGIS = "arcgis_export"

	UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
)

// Artifact is the result of a successful fetch
type Artifact struct {
	ImageBytes    []byte        `json:"-"`
	RequestedSize int           `json:"requestedSize"`
	ContentType   string        `json:"contentType"`
	Request       ExportRequest `json:"request"`
	URL           string        `json:"url"`
	FromCache     bool          `json:"fromCache"`
	FetchedAt     time.Time     `json:"fetchedAt"`
}

// ResponseCache stores export responses keyed by the serialized request
type ResponseCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte) error
}

// RateObserver is notified of every response so rate limiting can be surfaced to the user
type RateObserver interface {
	CheckResponse(provider string, resp *http.Response) bool
}

// Client fetches static export images. It makes exactly one attempt per call.
type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	cache      ResponseCache
	observer   RateObserver
}

// NewClient creates a client for the given export endpoint with system proxy support.
// No timeout is applied unless SetTimeout is called.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultExportURL
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		endpoint:   endpoint,
	}
}

// SetTimeout bounds each fetch; zero disables the bound
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SetCache enables response caching
func (c *Client) SetCache(cache ResponseCache) {
	c.cache = cache
}

// SetRateObserver attaches a rate limit observer
func (c *Client) SetRateObserver(o RateObserver) {
	c.observer = o
}

// Endpoint returns the export endpoint URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Fetch issues the request and returns the image. It fails with *NetworkError,
// *HTTPError or ErrEmptyResult; it never retries.
func (c *Client) Fetch(ctx context.Context, r ExportRequest) (*Artifact, error) {
	imageURL := r.URL(c.endpoint)
	cacheKey := r.CacheKey(c.endpoint)

	if c.cache != nil {
		if data, ok := c.cache.Get(cacheKey); ok && len(data) > 0 {
			logging.Debug("Export cache hit", "key", cacheKey)
			return &Artifact{
				ImageBytes:    data,
				RequestedSize: r.OutputSize,
				ContentType:   http.DetectContentType(data),
				Request:       r,
				URL:           imageURL,
				FromCache:     true,
				FetchedAt:     time.Now(),
			}, nil
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if c.observer != nil {
		c.observer.CheckResponse(ProviderArcGIS, resp)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("failed to read image: %w", err)}
	}
	if len(data) == 0 {
		return nil, ErrEmptyResult
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	// The export endpoint reports some failures as a 200 with a JSON error body
	if code, ok := serviceErrorCode(contentType, data); ok {
		return nil, &HTTPError{StatusCode: code}
	}

	if c.cache != nil {
		if err := c.cache.Set(cacheKey, data); err != nil {
			logging.Warn("Failed to cache export image", "error", err)
		}
	}

	return &Artifact{
		ImageBytes:    data,
		RequestedSize: r.OutputSize,
		ContentType:   contentType,
		Request:       r,
		URL:           imageURL,
		FetchedAt:     time.Now(),
	}, nil
}

// serviceErrorCode extracts the code of an ArcGIS JSON error body
func serviceErrorCode(contentType string, data []byte) (int, bool) {
	if strings.HasPrefix(contentType, "image/") {
		return 0, false
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return 0, false
	}

	var body struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &body); err != nil || body.Error == nil {
		return 0, false
	}

	logging.Warn("Export endpoint returned an error body", "code", body.Error.Code, "message", body.Error.Message)
	if body.Error.Code == 0 {
		return http.StatusBadGateway, true
	}
	return body.Error.Code, true
}
