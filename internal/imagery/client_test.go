package imagery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainz-basemap/internal/geo"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func testRequest(t *testing.T) ExportRequest {
	t.Helper()
	req, err := BuildRequest(geo.BoundingBox{West: 20, South: 5, East: 25, North: 10}, 1024, FormatMixed)
	require.NoError(t, err)
	return req
}

type memoryCache struct {
	data map[string][]byte
}

func (m *memoryCache) Get(key string) ([]byte, bool) {
	d, ok := m.data[key]
	return d, ok
}

func (m *memoryCache) Set(key string, data []byte) error {
	m.data[key] = data
	return nil
}

type recordingObserver struct {
	statuses []int
}

func (r *recordingObserver) CheckResponse(provider string, resp *http.Response) bool {
	r.statuses = append(r.statuses, resp.StatusCode)
	return resp.StatusCode == http.StatusTooManyRequests
}

func TestFetch_Success(t *testing.T) {
	var gotQuery string
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("bbox")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngMagic)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	artifact, err := client.Fetch(context.Background(), testRequest(t))
	require.NoError(t, err)

	assert.Equal(t, pngMagic, artifact.ImageBytes)
	assert.Equal(t, 1024, artifact.RequestedSize)
	assert.Equal(t, "image/png", artifact.ContentType)
	assert.False(t, artifact.FromCache)
	assert.Equal(t, "20,5,25,10", gotQuery)
	assert.Equal(t, UserAgent, gotUA)
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), testRequest(t))

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.StatusCode)
}

func TestFetch_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), testRequest(t))
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestFetch_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	_, err := NewClient(endpoint).Fetch(context.Background(), testRequest(t))

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.NotNil(t, errors.Unwrap(netErr))
}

func TestFetch_JSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":{"code":400,"message":"Invalid bbox","details":[]}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), testRequest(t))

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 400, httpErr.StatusCode)
}

func TestFetch_SingleAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), testRequest(t))
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetch_CacheHitSkipsNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngMagic)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	client.SetCache(&memoryCache{data: map[string][]byte{}})

	first, err := client.Fetch(context.Background(), testRequest(t))
	require.NoError(t, err)
	second, err := client.Fetch(context.Background(), testRequest(t))
	require.NoError(t, err)

	assert.False(t, first.FromCache)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.ImageBytes, second.ImageBytes)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetch_ReportsToObserver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	observer := &recordingObserver{}
	client := NewClient(srv.URL)
	client.SetRateObserver(observer)

	_, err := client.Fetch(context.Background(), testRequest(t))

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, []int{http.StatusTooManyRequests}, observer.statuses)
}

func TestFetch_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngMagic)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL).Fetch(ctx, testRequest(t))

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.ErrorIs(t, err, context.Canceled)
}
