package datasource

import (
	"context"
	"time"

	"github.com/ekaya-inc/geosql-gateway/pkg/models"
)

// ConnectionTester tests database connectivity.
// Each implementation owns its connection and must be closed when done.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with valid credentials.
	TestConnection(ctx context.Context) error

	// ServerVersion returns the database server version string.
	ServerVersion(ctx context.Context) (string, error)

	// Close releases the database connection.
	Close() error
}

// MetadataSource reads structural metadata for the base tables of a set of
// schemas. Per-table results are keyed by table reference; tables without
// entries simply have none.
type MetadataSource interface {
	// ListBaseTables returns every base table in schemas.
	ListBaseTables(ctx context.Context, schemas []string) ([]models.TableReference, error)

	// Columns returns columns in ordinal order.
	Columns(ctx context.Context, schemas []string) (map[models.TableReference][]models.ColumnInfo, error)

	// PrimaryKeys returns primary key column names in declared key order.
	PrimaryKeys(ctx context.Context, schemas []string) (map[models.TableReference][]string, error)

	// Indexes returns index definitions with access method and key columns.
	Indexes(ctx context.Context, schemas []string) (map[models.TableReference][]models.IndexInfo, error)

	// ForeignKeys returns foreign key constraints.
	ForeignKeys(ctx context.Context, schemas []string) (map[models.TableReference][]models.ForeignKeyInfo, error)

	// GeometryColumns returns rows of the spatial metadata registry. A table
	// may have several.
	GeometryColumns(ctx context.Context, schemas []string) (map[models.TableReference][]models.GeometryInfo, error)
}

// SessionSettings are applied to the database session before a statement runs.
type SessionSettings struct {
	StatementTimeout         time.Duration
	IdleInTransactionTimeout time.Duration
	SearchPath               []string
}

// Planner returns the planner's estimate for a statement without running it.
type Planner interface {
	Explain(ctx context.Context, sqlQuery string) (*models.PlanSummary, error)
}

// SessionExecutor runs an approved statement under session constraints and
// materializes at most rowCap rows.
type SessionExecutor interface {
	Execute(ctx context.Context, sqlQuery string, rowCap int) ([]map[string]any, error)
}
