package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/geosql-gateway/pkg/config"
)

const serviceName = "geosql-gateway"

// VersionProber reports the database server version.
type VersionProber interface {
	ServerVersion(ctx context.Context) (string, error)
}

// CatalogStats exposes the size and age of the loaded schema catalog.
type CatalogStats interface {
	Len() int
	LoadedAt() time.Time
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status          string     `json:"status"`
	Version         string     `json:"version"`
	Service         string     `json:"service"`
	GoVersion       string     `json:"go_version"`
	Hostname        string     `json:"hostname"`
	Environment     string     `json:"environment"`
	DatabaseVersion string     `json:"database_version,omitempty"`
	CatalogTables   int        `json:"catalog_tables"`
	CatalogLoadedAt *time.Time `json:"catalog_loaded_at,omitempty"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg     *config.Config
	db      VersionProber
	catalog CatalogStats
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and catalog may be nil.
func NewHealthHandler(cfg *config.Config, db VersionProber, catalog CatalogStats, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{cfg: cfg, db: db, catalog: catalog, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
// Liveness only; the database is not contacted.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"}); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns service information plus the database version and catalog size.
// An unreachable database is reported with the gateway error kind.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     serviceName,
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if h.db != nil {
		version, err := h.db.ServerVersion(r.Context())
		if err != nil {
			h.logger.Warn("Database version probe failed", zap.Error(err))
			if werr := WriteError(w, err); werr != nil {
				h.logger.Error("Failed to encode ping error", zap.Error(werr))
			}
			return
		}
		response.DatabaseVersion = version
	}

	if h.catalog != nil {
		response.CatalogTables = h.catalog.Len()
		if loaded := h.catalog.LoadedAt(); !loaded.IsZero() {
			response.CatalogLoadedAt = &loaded
		}
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
