package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int, retryAfter string) *http.Response {
	resp := &http.Response{StatusCode: status, Header: http.Header{}}
	if retryAfter != "" {
		resp.Header.Set("Retry-After", retryAfter)
	}
	return resp
}

func fixedClock(h *Handler, t time.Time) {
	h.now = func() time.Time { return t }
}

func TestIsThrottled(t *testing.T) {
	assert.True(t, IsThrottled(429))
	assert.True(t, IsThrottled(403))
	assert.True(t, IsThrottled(509))
	assert.False(t, IsThrottled(200))
	assert.False(t, IsThrottled(500))
}

func TestCheckResponse_RecordsAndRecovers(t *testing.T) {
	h := NewHandler()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fixedClock(h, start)

	var limited []Event
	var recovered []string
	h.SetOnRateLimit(func(e Event) { limited = append(limited, e) })
	h.SetOnRecovered(func(p string) { recovered = append(recovered, p) })

	assert.True(t, h.CheckResponse("arcgis", response(429, "")))
	assert.True(t, h.IsRateLimited("arcgis"))
	require.Len(t, limited, 1)
	assert.Equal(t, 0, limited[0].Occurrence)
	assert.Equal(t, start.Add(Backoff[0]), limited[0].RetryAfter)

	assert.True(t, h.CheckResponse("arcgis", response(429, "")))
	state := h.GetCurrentState("arcgis")
	require.NotNil(t, state)
	assert.Equal(t, 1, state.Occurrence)
	assert.Equal(t, start.Add(Backoff[1]), state.RetryAfter)

	assert.False(t, h.CheckResponse("arcgis", response(200, "")))
	assert.False(t, h.IsRateLimited("arcgis"))
	assert.Nil(t, h.GetCurrentState("arcgis"))
	assert.Equal(t, []string{"arcgis"}, recovered)
}

func TestCheckResponse_HonorsRetryAfter(t *testing.T) {
	h := NewHandler()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fixedClock(h, start)

	h.CheckResponse("arcgis", response(509, "120"))

	state := h.GetCurrentState("arcgis")
	require.NotNil(t, state)
	assert.Equal(t, start.Add(2*time.Minute), state.RetryAfter)
}

func TestBackoff_LastIntervalRepeats(t *testing.T) {
	h := NewHandler()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fixedClock(h, start)

	for i := 0; i < len(Backoff)+3; i++ {
		h.CheckResponse("arcgis", response(429, ""))
	}

	state := h.GetCurrentState("arcgis")
	require.NotNil(t, state)
	assert.Equal(t, start.Add(Backoff[len(Backoff)-1]), state.RetryAfter)
}

func TestIsRateLimited_ExpiresAfterWait(t *testing.T) {
	h := NewHandler()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fixedClock(h, start)
	h.CheckResponse("arcgis", response(403, ""))

	fixedClock(h, start.Add(Backoff[0]+time.Second))
	assert.False(t, h.IsRateLimited("arcgis"))
	assert.NotNil(t, h.GetCurrentState("arcgis"))
}

func TestClear(t *testing.T) {
	h := NewHandler()
	h.CheckResponse("arcgis", response(429, ""))
	h.Clear("arcgis")

	assert.False(t, h.IsRateLimited("arcgis"))
	assert.Nil(t, h.GetCurrentState("arcgis"))
}

func TestCheckResponse_NilResponse(t *testing.T) {
	assert.False(t, NewHandler().CheckResponse("arcgis", nil))
}

func TestMessage(t *testing.T) {
	assert.Contains(t, buildMessage(429, 0, 5*time.Minute), "HTTP 429")
	assert.Contains(t, buildMessage(429, 2, 5*time.Minute), "3 responses in a row")
}
