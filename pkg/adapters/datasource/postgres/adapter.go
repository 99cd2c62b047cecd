package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/geosql-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/geosql-gateway/pkg/logging"
)

// probeTimeout bounds connectivity and version probes.
const probeTimeout = 5 * time.Second

// Adapter owns the connection pool to the spatial database and provides
// connectivity probes.
type Adapter struct {
	config *Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewAdapter opens a connection pool for cfg. If logger is nil, a no-op
// logger is used.
func NewAdapter(ctx context.Context, cfg *Config, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}

	connStr := buildConnectionString(cfg)
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %s", logging.SanitizeError(err))
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, classifyError(fmt.Errorf("connect to postgres: %w", err))
	}

	logger.Named("postgres").Info("Connection pool created",
		zap.String("host", cfg.Host),
		zap.Uint16("port", poolCfg.ConnConfig.Port),
		zap.String("database", cfg.Database),
		zap.Int32("max_conns", poolCfg.MaxConns))

	return &Adapter{config: cfg, pool: pool, logger: logger.Named("postgres")}, nil
}

// Pool returns the underlying connection pool shared by the discoverer and
// the executor.
func (a *Adapter) Pool() *pgxpool.Pool {
	return a.pool
}

// TestConnection verifies the database is reachable with valid credentials
// and that the session landed on the configured database.
func (a *Adapter) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := a.pool.Ping(ctx); err != nil {
		return classifyError(fmt.Errorf("ping failed: %w", err))
	}

	var currentDB string
	if err := a.pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return classifyError(fmt.Errorf("failed to get current database name: %w", err))
	}

	if !strings.EqualFold(currentDB, a.config.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.Database, currentDB)
	}

	return nil
}

// ServerVersion returns the server's version() string.
func (a *Adapter) ServerVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var version string
	if err := a.pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", classifyError(fmt.Errorf("query server version: %w", err))
	}
	return version, nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

// Ensure Adapter implements ConnectionTester at compile time.
var _ datasource.ConnectionTester = (*Adapter)(nil)
