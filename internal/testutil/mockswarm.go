// Package testutil provides testing utilities for the proxy swarm: a
// minimal HTTP forward proxy and a configurable target server, both backed
// by httptest.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockProxy is a minimal HTTP forward proxy with request tracking. It
// handles absolute-URI GET requests the way a real forward proxy does,
// which is all the dispatcher ever sends.
type MockProxy struct {
	server *httptest.Server

	mu           sync.Mutex
	requestCount int
	served       []string
	lastAuth     string
}

// NewMockProxy starts a forward proxy.
func NewMockProxy() *MockProxy {
	p := &MockProxy{}

	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.URL.IsAbs() {
			http.Error(w, "not a proxy request", http.StatusBadRequest)
			return
		}

		p.mu.Lock()
		p.requestCount++
		p.served = append(p.served, r.URL.String())
		p.lastAuth = r.Header.Get("Proxy-Authorization")
		p.mu.Unlock()

		out, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		out.Header = r.Header.Clone()
		out.Header.Del("Proxy-Authorization")
		out.Header.Del("Proxy-Connection")

		resp, err := http.DefaultTransport.RoundTrip(out)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		for k, vv := range resp.Header {
			for _, v := range vv {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}))

	return p
}

// URL returns the proxy listener URL.
func (p *MockProxy) URL() string {
	return p.server.URL
}

// Close shuts down the proxy.
func (p *MockProxy) Close() {
	p.server.Close()
}

// RequestCount returns how many requests this proxy served.
func (p *MockProxy) RequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requestCount
}

// Served returns the target URLs routed through this proxy, in order.
func (p *MockProxy) Served() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.served...)
}

// LastAuth returns the Proxy-Authorization header of the last request.
func (p *MockProxy) LastAuth() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAuth
}

// TargetResponse defines the behavior for one target path.
type TargetResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockTarget is a configurable origin server for dispatch tests.
type MockTarget struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string]TargetResponse

	RequestCount int
}

// NewMockTarget starts a target server. Unconfigured paths answer 200 "ok".
func NewMockTarget() *MockTarget {
	m := &MockTarget{responses: make(map[string]TargetResponse)}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.RequestCount++
		resp, ok := m.responses[r.URL.Path]
		m.mu.Unlock()

		if !ok {
			resp = TargetResponse{StatusCode: http.StatusOK, Body: "ok"}
		}
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(resp.StatusCode)
		io.WriteString(w, resp.Body)
	}))

	return m
}

// URL returns the target server URL.
func (m *MockTarget) URL() string {
	return m.server.URL
}

// Close shuts down the target.
func (m *MockTarget) Close() {
	m.server.Close()
}

// SetResponse configures the response for a path.
func (m *MockTarget) SetResponse(path string, resp TargetResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = resp
}
