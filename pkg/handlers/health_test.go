package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/geosql-gateway/pkg/apperrors"
	"github.com/ekaya-inc/geosql-gateway/pkg/config"
)

type mockProber struct {
	version string
	err     error
}

func (m *mockProber) ServerVersion(context.Context) (string, error) {
	return m.version, m.err
}

type mockCatalogStats struct {
	n        int
	loadedAt time.Time
}

func (m *mockCatalogStats) Len() int            { return m.n }
func (m *mockCatalogStats) LoadedAt() time.Time { return m.loadedAt }

func TestHealthHandler_Health(t *testing.T) {
	cfg := &config.Config{
		Version: "test-version",
		Env:     "test",
	}
	handler := NewHealthHandler(cfg, &mockProber{err: fmt.Errorf("%w: down", apperrors.ErrInfrastructure)}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", response.Status)
	}
}

func TestHealthHandler_Ping(t *testing.T) {
	cfg := &config.Config{
		Version: "1.2.3",
		Env:     "test",
	}
	loaded := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	handler := NewHealthHandler(cfg,
		&mockProber{version: "PostgreSQL 16.4 on x86_64-pc-linux-gnu"},
		&mockCatalogStats{n: 42, loadedAt: loaded},
		zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()

	handler.Ping(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response PingResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", response.Status)
	}
	if response.Version != "1.2.3" {
		t.Errorf("expected version '1.2.3', got '%s'", response.Version)
	}
	if response.Service != "geosql-gateway" {
		t.Errorf("expected service 'geosql-gateway', got '%s'", response.Service)
	}
	if response.Environment != "test" {
		t.Errorf("expected environment 'test', got '%s'", response.Environment)
	}
	if response.GoVersion == "" {
		t.Error("expected non-empty go_version")
	}
	if response.DatabaseVersion != "PostgreSQL 16.4 on x86_64-pc-linux-gnu" {
		t.Errorf("unexpected database_version %q", response.DatabaseVersion)
	}
	if response.CatalogTables != 42 {
		t.Errorf("expected 42 catalog tables, got %d", response.CatalogTables)
	}
	if response.CatalogLoadedAt == nil || !response.CatalogLoadedAt.Equal(loaded) {
		t.Errorf("expected catalog_loaded_at %v, got %v", loaded, response.CatalogLoadedAt)
	}
}

func TestHealthHandler_Ping_WithoutDependencies(t *testing.T) {
	handler := NewHealthHandler(&config.Config{Version: "dev"}, nil, &mockCatalogStats{}, nil)

	rec := httptest.NewRecorder()
	handler.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var response PingResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.DatabaseVersion != "" {
		t.Errorf("expected no database_version, got %q", response.DatabaseVersion)
	}
	if response.CatalogLoadedAt != nil {
		t.Error("expected no catalog_loaded_at before the catalog is loaded")
	}
}

func TestHealthHandler_Ping_DatabaseDown(t *testing.T) {
	prober := &mockProber{err: fmt.Errorf("%w: dial tcp postgres://gis:hunter2@db:5432: connection refused", apperrors.ErrInfrastructure)}
	handler := NewHealthHandler(&config.Config{Version: "dev"}, prober, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["error"] != apperrors.KindInfrastructure {
		t.Errorf("expected error kind %q, got %q", apperrors.KindInfrastructure, body["error"])
	}
	if got := body["message"]; got == "" || strings.Contains(got, "hunter2") {
		t.Errorf("expected redacted message, got %q", got)
	}
}

func TestHealthHandler_RegisterRoutes(t *testing.T) {
	handler := NewHealthHandler(&config.Config{}, nil, nil, nil)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	for _, path := range []string{"/health", "/ping"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected status %d, got %d", path, http.StatusOK, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health: expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
