package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/strseb/fogproxy/pkg/common/auth"
	"github.com/strseb/fogproxy/pkg/stats"
)

// MockDatabase is a mock implementation of the Database interface.
type MockDatabase struct {
	snapshots map[string]*stats.Snapshot
	// stale instances are registered but their hash expired
	stale   []string
	removed []string
	fail    bool
}

func newMockDatabase() *MockDatabase {
	return &MockDatabase{
		snapshots: map[string]*stats.Snapshot{
			"fog-b:8880": {Uptime: "2m0s", Accepted: 10, Tunnels: 8, ClientToRemote: 100},
			"fog-a:8880": {Uptime: "1m0s", Accepted: 5, Probes: 5, RemoteToClient: 7},
		},
		stale: []string{"fog-gone:8880"},
	}
}

func (m *MockDatabase) GetAllInstances() ([]string, error) {
	if m.fail {
		return nil, errors.New("redis down")
	}
	names := append([]string(nil), m.stale...)
	for name := range m.snapshots {
		names = append(names, name)
	}
	return names, nil
}

func (m *MockDatabase) GetSnapshot(instance string) (*stats.Snapshot, error) {
	snap, ok := m.snapshots[instance]
	if !ok {
		return nil, ErrUnknownInstance
	}
	return snap, nil
}

func (m *MockDatabase) RemoveInstance(instance string) error {
	m.removed = append(m.removed, instance)
	delete(m.snapshots, instance)
	return nil
}

func TestHeartbeatEndpoint(t *testing.T) {
	r := createRouter(newMockDatabase(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status OK, got %v", w.Code)
	}
}

func TestInstancesEndpoint(t *testing.T) {
	r := createRouter(newMockDatabase(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/instances", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status OK, got %v", w.Code)
	}
	var body struct {
		Instances []instanceStats `json:"instances"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Instances) != 2 {
		t.Fatalf("expected 2 live instances, got %d", len(body.Instances))
	}
	if body.Instances[0].Instance != "fog-a:8880" || body.Instances[1].Instance != "fog-b:8880" {
		t.Errorf("expected sorted instances, got %s, %s", body.Instances[0].Instance, body.Instances[1].Instance)
	}
}

func TestInstanceEndpoint(t *testing.T) {
	r := createRouter(newMockDatabase(), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/instances/fog-b:8880", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status OK, got %v", w.Code)
	}
	var body instanceStats
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Stats.Tunnels != 8 {
		t.Errorf("expected 8 tunnels, got %d", body.Stats.Tunnels)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/instances/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown instance, got %v", w.Code)
	}
}

func TestTotalsEndpoint(t *testing.T) {
	r := createRouter(newMockDatabase(), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/totals", nil))
	var body struct {
		Instances int            `json:"instances"`
		Totals    stats.Snapshot `json:"totals"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Instances != 2 || body.Totals.Accepted != 15 || body.Totals.ClientToRemote != 100 || body.Totals.RemoteToClient != 7 {
		t.Errorf("unexpected totals %+v", body)
	}
}

func TestDatabaseFailure(t *testing.T) {
	db := newMockDatabase()
	db.fail = true
	r := createRouter(db, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/instances", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %v", w.Code)
	}
}

func TestAuthenticatedRoutes(t *testing.T) {
	secret := []byte("control-secret")
	db := newMockDatabase()
	r := createRouter(db, auth.NewJWTValidator(secret, auth.NewRevocationList(time.Hour)))

	reader, err := auth.IssueToken(secret, "reader", time.Hour, auth.PERMISSION_STATS_READ)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	admin, err := auth.IssueToken(secret, "admin", time.Hour, auth.AllPermissions...)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health is open", http.MethodGet, "/api/v1/health", "", http.StatusOK},
		{"instances need a token", http.MethodGet, "/api/v1/instances", "", http.StatusUnauthorized},
		{"reader sees instances", http.MethodGet, "/api/v1/instances", reader.Token, http.StatusOK},
		{"reader cannot delete", http.MethodDelete, "/api/v1/instances/fog-a:8880", reader.Token, http.StatusForbidden},
		{"admin deletes", http.MethodDelete, "/api/v1/instances/fog-a:8880", admin.Token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d (%s)", tt.want, w.Code, w.Body.String())
			}
		})
	}

	if len(db.removed) != 1 || db.removed[0] != "fog-a:8880" {
		t.Errorf("expected fog-a:8880 to be removed, got %v", db.removed)
	}
}

// MockRevocationStore stands in for the Redis keys every process shares.
type MockRevocationStore struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (m *MockRevocationStore) Revoke(_ context.Context, jti string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func (m *MockRevocationStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

func (m *MockRevocationStore) Revoked(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []string
	for jti := range m.revoked {
		list = append(list, jti)
	}
	return list, nil
}

func TestRevocationFromProxyApplies(t *testing.T) {
	secret := []byte("control-secret")
	store := &MockRevocationStore{revoked: make(map[string]bool)}
	db := newMockDatabase()
	r := createRouter(db, auth.NewJWTValidator(secret, auth.NewSharedRevocationList(time.Hour, store)))

	admin, err := auth.IssueToken(secret, "admin", time.Hour, auth.AllPermissions...)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}

	// A proxy's admin API revokes the token in its own list.
	proxyRevocations := auth.NewSharedRevocationList(time.Hour, store)
	if err := proxyRevocations.RevokeUntil(admin.JTI, admin.ExpiresAt); err != nil {
		t.Fatalf("RevokeUntil() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/instances/fog-a:8880", nil)
	req.Header.Set("Authorization", "Bearer "+admin.Token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected the revoked token to be rejected, got %d", w.Code)
	}
	if len(db.removed) != 0 {
		t.Errorf("Expected nothing removed, got %v", db.removed)
	}
}
