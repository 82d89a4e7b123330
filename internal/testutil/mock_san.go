// Package testutil provides a configurable mock SAN management API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// MockSAN is a configurable mock management REST server.
type MockSAN struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	requestCount int
	loginCount   int
	pathCounts   map[string]int
}

// NewMockSAN creates a new mock management server.
func NewMockSAN() *MockSAN {
	mock := &MockSAN{
		handlers:   make(map[string]http.HandlerFunc),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSAN) URL() string {
	return m.server.URL
}

// Client returns an HTTP client configured for the mock server.
func (m *MockSAN) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockSAN) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSAN) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.loginCount = 0
	m.pathCounts = make(map[string]int)
}

// RequestCount returns the total number of requests served.
func (m *MockSAN) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LoginCount returns the number of token exchanges served.
func (m *MockSAN) LoginCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loginCount
}

// RequestsTo returns the number of requests served for one path.
func (m *MockSAN) RequestsTo(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSAN) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetJSON serves a static JSON document on a path.
func (m *MockSAN) SetJSON(path string, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal fixture for %s: %v", path, err))
	}
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})
}

// SetStatus makes a path answer with a fixed status code.
func (m *MockSAN) SetStatus(path string, status int) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

// SetRecords serves records on a path with offset/limit pagination as a bare
// JSON array per page, honoring the limit and offset query parameters.
func (m *MockSAN) SetRecords(path string, records []interface{}) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		limit := 500
		offset := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		end := offset + limit
		if offset > len(records) {
			offset = len(records)
		}
		if end > len(records) {
			end = len(records)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(records[offset:end])
	})
}

// SetTokenPages serves pre-partitioned pages on a path with
// continuation-token pagination. The final page carries no token. An empty
// page may still carry a token (the client must keep following it).
func (m *MockSAN) SetTokenPages(path string, pages [][]interface{}) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		idx := 0
		if tok := r.URL.Query().Get("continuation_token"); tok != "" {
			if n, err := strconv.Atoi(tok); err == nil && n > 0 && n < len(pages) {
				idx = n
			}
		}

		env := map[string]interface{}{"data": pages[idx]}
		if idx+1 < len(pages) {
			env["continuation_token"] = strconv.Itoa(idx + 1)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(env)
	})
}

// SetLogin serves a bearer token exchange on path, counting calls.
func (m *MockSAN) SetLogin(path, token string, expiresIn int64) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.loginCount++
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"token":      token,
			"expires_in": expiresIn,
		})
	})
}
