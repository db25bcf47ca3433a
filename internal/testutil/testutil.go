// Package testutil provides an in-process fake of the Port API for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
	Token        = "test-token"
)

// Call records a request received by the fake server.
type Call struct {
	Method string
	Path   string
	Query  string
}

// FakePort serves the subset of the Port API used by the exporter.
// Blueprints are listed in insertion order.
type FakePort struct {
	Server *httptest.Server

	mu         sync.Mutex
	blueprints []string
	entities   map[string][]map[string]any
	// Per-path status codes that override normal handling.
	failures map[string]int
	calls    []Call
}

// NewFakePort starts a fake server that is closed when the test ends.
func NewFakePort(t *testing.T) *FakePort {
	t.Helper()
	f := &FakePort{
		entities: make(map[string][]map[string]any),
		failures: make(map[string]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL to configure the client with.
func (f *FakePort) URL() string {
	return f.Server.URL
}

// AddBlueprint registers a blueprint with the given entities.
// Each entity needs at least an "identifier" field.
func (f *FakePort) AddBlueprint(id string, entities ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blueprints = append(f.blueprints, id)
	f.entities[id] = append(f.entities[id], entities...)
}

// Fail makes all requests to path answer with the given status code.
func (f *FakePort) Fail(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = status
}

// Calls returns all requests received so far, excluding authentication.
func (f *FakePort) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var calls []Call
	for _, c := range f.calls {
		if c.Path != "/auth/access_token" {
			calls = append(calls, c)
		}
	}
	return calls
}

// CountCalls returns the number of requests received for path.
func (f *FakePort) CountCalls(path string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Path == path {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *FakePort) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})

	if status, ok := f.failures[r.URL.Path]; ok {
		writeJSON(w, status, map[string]any{"ok": false, "error": "injected failure"})
		return
	}

	if r.URL.Path == "/auth/access_token" {
		f.serveAuth(w, r)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+Token {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false})
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "blueprints":
		bps := make([]map[string]any, 0, len(f.blueprints))
		for _, id := range f.blueprints {
			bps = append(bps, map[string]any{"identifier": id, "title": strings.ToUpper(id)})
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "blueprints": bps})
	case len(parts) == 3 && parts[0] == "blueprints" && parts[2] == "entities":
		es, ok := f.entities[parts[1]]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "blueprint_not_found"})
			return
		}
		if es == nil {
			es = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entities": es})
	case len(parts) == 4 && parts[0] == "blueprints" && parts[2] == "entities":
		for _, e := range f.entities[parts[1]] {
			if e["identifier"] == parts[3] {
				writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entity": e})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not_found"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not_found"})
	}
}

func (f *FakePort) serveAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
	}
	if r.Method != http.MethodPost || json.NewDecoder(r.Body).Decode(&req) != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false})
		return
	}
	if req.ClientID != ClientID || req.ClientSecret != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "accessToken": Token, "expiresIn": 3600, "tokenType": "Bearer"})
}
