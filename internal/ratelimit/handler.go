// Package ratelimit tracks throttling responses from imagery providers so the UI
// can tell the user why a fetch failed and when it is sensible to try again.
// Nothing here retries on its own.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"trainz-basemap/internal/logging"
)

// Backoff lists the suggested wait after the n-th consecutive throttled response.
// The last value repeats.
var Backoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
}

// Event describes the current throttling state of a provider
type Event struct {
	Timestamp  time.Time `json:"timestamp" ts_type:"string"`
	Provider   string    `json:"provider"`
	StatusCode int       `json:"statusCode"`
	Occurrence int       `json:"occurrence"` // 0 for the first throttled response
	RetryAfter time.Time `json:"retryAfter" ts_type:"string"`
	Message    string    `json:"message"`
}

// Handler records throttled responses per provider
type Handler struct {
	mu          sync.RWMutex
	limited     map[string]*Event
	now         func() time.Time
	onRateLimit func(Event)
	onRecovered func(provider string)
}

// NewHandler creates an empty handler
func NewHandler() *Handler {
	return &Handler{
		limited: make(map[string]*Event),
		now:     time.Now,
	}
}

// SetOnRateLimit sets the callback fired when a provider gets throttled
func (h *Handler) SetOnRateLimit(callback func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRateLimit = callback
}

// SetOnRecovered sets the callback fired when a throttled provider answers normally again
func (h *Handler) SetOnRecovered(callback func(provider string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovered = callback
}

// IsThrottled reports whether a status code means the provider is limiting us
func IsThrottled(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusForbidden ||
		statusCode == 509 // Bandwidth Limit Exceeded
}

// CheckResponse inspects a provider response and updates the state. It returns
// true when the response was a throttling response.
func (h *Handler) CheckResponse(provider string, resp *http.Response) bool {
	if resp == nil {
		return false
	}
	if !IsThrottled(resp.StatusCode) {
		h.recover(provider)
		return false
	}
	h.record(provider, resp.StatusCode, retryAfterHeader(resp.Header.Get("Retry-After")))
	return true
}

// IsRateLimited reports whether provider is throttled and its suggested wait has not passed
func (h *Handler) IsRateLimited(provider string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	event, ok := h.limited[provider]
	return ok && h.now().Before(event.RetryAfter)
}

// GetCurrentState returns a copy of the provider's state, or nil
func (h *Handler) GetCurrentState(provider string) *Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if event, ok := h.limited[provider]; ok {
		eventCopy := *event
		return &eventCopy
	}
	return nil
}

// Clear forgets the throttling state of provider, e.g. after the user changed network
func (h *Handler) Clear(provider string) {
	h.mu.Lock()
	_, ok := h.limited[provider]
	delete(h.limited, provider)
	h.mu.Unlock()

	if ok {
		logging.Info("Rate limit cleared manually", "provider", provider)
	}
}

func (h *Handler) record(provider string, statusCode int, hinted time.Duration) {
	h.mu.Lock()
	occurrence := 0
	if existing, ok := h.limited[provider]; ok {
		occurrence = existing.Occurrence + 1
	}

	wait := hinted
	if wait <= 0 {
		wait = Backoff[min(occurrence, len(Backoff)-1)]
	}

	now := h.now()
	event := Event{
		Timestamp:  now,
		Provider:   provider,
		StatusCode: statusCode,
		Occurrence: occurrence,
		RetryAfter: now.Add(wait),
		Message:    buildMessage(statusCode, occurrence, wait),
	}
	h.limited[provider] = &event
	callback := h.onRateLimit
	h.mu.Unlock()

	logging.Warn("Provider rate limited",
		"provider", provider,
		"status", statusCode,
		"occurrence", occurrence,
		"retryAfter", event.RetryAfter.Format(time.RFC3339))

	if callback != nil {
		callback(event)
	}
}

func (h *Handler) recover(provider string) {
	h.mu.Lock()
	_, ok := h.limited[provider]
	delete(h.limited, provider)
	callback := h.onRecovered
	h.mu.Unlock()

	if !ok {
		return
	}
	logging.Info("Provider rate limit cleared", "provider", provider)
	if callback != nil {
		callback(provider)
	}
}

// retryAfterHeader parses the delay-seconds form of Retry-After
func retryAfterHeader(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func buildMessage(statusCode int, occurrence int, wait time.Duration) string {
	minutes := int(wait.Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	if occurrence == 0 {
		return fmt.Sprintf(
			"Imagery service rate limit detected (HTTP %d). Wait about %d minute(s) before generating again.",
			statusCode, minutes)
	}
	return fmt.Sprintf(
		"Imagery service still rate limited (%d responses in a row). Wait about %d minute(s) or try later.",
		occurrence+1, minutes)
}
