// Package testutil provides testing utilities for the Hypixel market poller.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// MockResponse defines the behavior for a mock Hypixel endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockHypixel is a configurable mock Hypixel server for testing.
type MockHypixel struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	requestCount      int
	conditionalCount  int
	pathCounts        map[string]int
	lastRequestHeader http.Header
}

// NewMockHypixel creates a new mock Hypixel server.
func NewMockHypixel() *MockHypixel {
	mock := &MockHypixel{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.lastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.conditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockHypixel) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockHypixel) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockHypixel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.pathCounts = make(map[string]int)
	m.lastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockHypixel) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockHypixel) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetSequence answers successive requests to path with the given responses.
// The last response repeats once the sequence is exhausted.
func (m *MockHypixel) SetSequence(path string, responses ...MockResponse) {
	var (
		mu   sync.Mutex
		next int
	)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[min(next, len(responses)-1)]
		next++
		mu.Unlock()

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockHypixel) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// GetPathCount returns the number of requests made to path.
func (m *MockHypixel) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockHypixel) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockHypixel) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// defaultHandler answers unknown paths the way Hypixel does.
func (m *MockHypixel) defaultHandler(w http.ResponseWriter, r *http.Request) {
	setQuotaHeaders(w.Header(), 120, 119, 60)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"success":false,"cause":"Invalid endpoint"}`))
}

// SetBazaar serves a bazaar resource with the given lastUpdated and one
// product per id.
func (m *MockHypixel) SetBazaar(path string, lastUpdated int64, productIDs ...string) {
	m.SetResponse(path, NewHealthyResponse(BazaarBody(lastUpdated, productIDs...)))
}

// SetAuctions serves totalPages auction pages, each holding perPage
// auctions, all reporting lastUpdated.
func (m *MockHypixel) SetAuctions(path string, lastUpdated int64, totalPages, perPage int) {
	m.SetAuctionsFunc(path, func(page int) int64 { return lastUpdated }, totalPages, perPage)
}

// SetAuctionsFunc is SetAuctions with a per-page lastUpdated, for
// simulating an upstream that rotates mid-fetch.
func (m *MockHypixel) SetAuctionsFunc(path string, lastUpdated func(page int) int64, totalPages, perPage int) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil {
			page = 0
		}
		setQuotaHeaders(w.Header(), 120, 100, 60)
		w.Header().Set("Content-Type", "application/json")

		if page < 0 || page >= totalPages {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success":false,"cause":"Page not found"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(AuctionsPageBody(page, totalPages, perPage, lastUpdated(page))))
	})
}

// BazaarBody renders a bazaar response.
func BazaarBody(lastUpdated int64, productIDs ...string) string {
	products := make(map[string]any, len(productIDs))
	for i, id := range productIDs {
		products[id] = map[string]any{
			"product_id": id,
			"quick_status": map[string]any{
				"productId":      id,
				"buyPrice":       10.5 + float64(i),
				"sellPrice":      9.5 + float64(i),
				"buyVolume":      1000,
				"sellVolume":     800,
				"buyMovingWeek":  70000,
				"sellMovingWeek": 65000,
				"buyOrders":      12,
				"sellOrders":     9,
			},
		}
	}
	return mustJSON(map[string]any{
		"success":     true,
		"lastUpdated": lastUpdated,
		"products":    products,
	})
}

// AuctionsPageBody renders one auctions page.
func AuctionsPageBody(page, totalPages, perPage int, lastUpdated int64) string {
	auctions := make([]map[string]any, 0, perPage)
	for i := 0; i < perPage; i++ {
		auctions = append(auctions, map[string]any{
			"uuid":               fmt.Sprintf("auction-%d-%d", page, i),
			"auctioneer":         "seller",
			"item_name":          fmt.Sprintf("Item %d-%d", page, i),
			"tier":               "RARE",
			"starting_bid":       100 * (i + 1),
			"highest_bid_amount": 0,
			"bin":                true,
			"start":              lastUpdated - 60000,
			"end":                lastUpdated + 3600000,
		})
	}
	return mustJSON(map[string]any{
		"success":       true,
		"page":          page,
		"totalPages":    totalPages,
		"totalAuctions": totalPages * perPage,
		"lastUpdated":   lastUpdated,
		"auctions":      auctions,
	})
}

// NewHealthyResponse creates a standard 200 OK response with quota headers.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"RateLimit-Limit":     "120",
			"RateLimit-Remaining": "119",
			"RateLimit-Reset":     "60",
			"Content-Type":        "application/json",
		},
	}
}

// NewNotModifiedResponse creates a 304 Not Modified response.
func NewNotModifiedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotModified,
		Headers: map[string]string{
			"RateLimit-Limit":     "120",
			"RateLimit-Remaining": "118",
			"RateLimit-Reset":     "60",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"success":false,"cause":"Key throttle"}`,
		Headers: map[string]string{
			"RateLimit-Limit":     "120",
			"RateLimit-Remaining": "0",
			"RateLimit-Reset":     "30",
			"Content-Type":        "application/json",
		},
	}
}

// NewServerErrorResponse creates a 503 Service Unavailable response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"success":false,"cause":"Service unavailable"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewForbiddenResponse creates a 403 Forbidden response as sent for an invalid key.
func NewForbiddenResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"success":false,"cause":"Invalid API key"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewConditionalHandler creates a handler that responds with 304 when the
// request carries etag in If-None-Match.
func NewConditionalHandler(etag string, data string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		setQuotaHeaders(w.Header(), 120, 110, 60)
		w.Header().Set("Content-Type", "application/json")

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(data))
	}
}

func setQuotaHeaders(h http.Header, limit, remaining, reset int) {
	h.Set("RateLimit-Limit", strconv.Itoa(limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("RateLimit-Reset", strconv.Itoa(reset))
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal fixture: %v", err))
	}
	return string(b)
}
