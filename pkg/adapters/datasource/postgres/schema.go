package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ekaya-inc/geosql-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/geosql-gateway/pkg/models"
)

// querier is the subset of pgxpool.Pool and pgx.Tx used for reads.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SchemaDiscoverer reads table structure from information_schema, the
// system catalogs and the PostGIS geometry_columns registry. Every query is
// filtered to the requested schemas in a single round trip.
type SchemaDiscoverer struct {
	db     querier
	logger *zap.Logger
}

// NewSchemaDiscoverer creates a discoverer over db (usually the adapter's
// pool). If logger is nil, a no-op logger is used.
func NewSchemaDiscoverer(db querier, logger *zap.Logger) *SchemaDiscoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaDiscoverer{db: db, logger: logger.Named("schema-discoverer")}
}

// ListBaseTables returns every base table in schemas.
func (d *SchemaDiscoverer) ListBaseTables(ctx context.Context, schemas []string) ([]models.TableReference, error) {
	const query = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema = ANY($1)
		ORDER BY table_schema, table_name
	`

	rows, err := d.db.Query(ctx, query, schemas)
	if err != nil {
		return nil, classifyError(fmt.Errorf("query tables: %w", err))
	}
	defer rows.Close()

	var tables []models.TableReference
	for rows.Next() {
		var ref models.TableReference
		if err := rows.Scan(&ref.Schema, &ref.Table); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("iterate tables: %w", err))
	}
	return tables, nil
}

// Columns returns the columns of every table in schemas in ordinal order.
func (d *SchemaDiscoverer) Columns(ctx context.Context, schemas []string) (map[models.TableReference][]models.ColumnInfo, error) {
	const query = `
		SELECT table_schema, table_name, column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = ANY($1)
		ORDER BY table_schema, table_name, ordinal_position
	`

	rows, err := d.db.Query(ctx, query, schemas)
	if err != nil {
		return nil, classifyError(fmt.Errorf("query columns: %w", err))
	}
	defer rows.Close()

	result := make(map[models.TableReference][]models.ColumnInfo)
	for rows.Next() {
		var ref models.TableReference
		var c models.ColumnInfo
		if err := rows.Scan(&ref.Schema, &ref.Table, &c.Name, &c.DataType, &c.IsNullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		result[ref] = append(result[ref], c)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("iterate columns: %w", err))
	}
	return result, nil
}

// PrimaryKeys returns primary key column names in declared key order.
func (d *SchemaDiscoverer) PrimaryKeys(ctx context.Context, schemas []string) (map[models.TableReference][]string, error) {
	const query = `
		SELECT n.nspname, t.relname, a.attname
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE ix.indisprimary
		  AND n.nspname = ANY($1)
		ORDER BY n.nspname, t.relname, array_position(ix.indkey::int2[], a.attnum)
	`

	rows, err := d.db.Query(ctx, query, schemas)
	if err != nil {
		return nil, classifyError(fmt.Errorf("query primary keys: %w", err))
	}
	defer rows.Close()

	result := make(map[models.TableReference][]string)
	for rows.Next() {
		var ref models.TableReference
		var col string
		if err := rows.Scan(&ref.Schema, &ref.Table, &col); err != nil {
			return nil, fmt.Errorf("scan primary key: %w", err)
		}
		result[ref] = append(result[ref], col)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("iterate primary keys: %w", err))
	}
	return result, nil
}

// Indexes returns every index with its access method and key columns.
// Expression index keys have no column name and are omitted.
func (d *SchemaDiscoverer) Indexes(ctx context.Context, schemas []string) (map[models.TableReference][]models.IndexInfo, error) {
	const query = `
		SELECT n.nspname, t.relname, i.relname, am.amname,
		       COALESCE(array_agg(a.attname::text ORDER BY k.ord) FILTER (WHERE a.attname IS NOT NULL), '{}')
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_am am ON am.oid = i.relam
		CROSS JOIN LATERAL unnest(ix.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
		LEFT JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = ANY($1)
		GROUP BY n.nspname, t.relname, i.relname, am.amname
		ORDER BY n.nspname, t.relname, i.relname
	`

	rows, err := d.db.Query(ctx, query, schemas)
	if err != nil {
		return nil, classifyError(fmt.Errorf("query indexes: %w", err))
	}
	defer rows.Close()

	result := make(map[models.TableReference][]models.IndexInfo)
	for rows.Next() {
		var ref models.TableReference
		var idx models.IndexInfo
		if err := rows.Scan(&ref.Schema, &ref.Table, &idx.Name, &idx.AccessMethod, &idx.Columns); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		result[ref] = append(result[ref], idx)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("iterate indexes: %w", err))
	}
	return result, nil
}

// ForeignKeys returns foreign key constraints with column pairs in key order.
func (d *SchemaDiscoverer) ForeignKeys(ctx context.Context, schemas []string) (map[models.TableReference][]models.ForeignKeyInfo, error) {
	const query = `
		SELECT sn.nspname, st.relname, c.conname,
		       array_agg(sa.attname::text ORDER BY k.ord),
		       tn.nspname, tt.relname,
		       array_agg(ta.attname::text ORDER BY k.ord)
		FROM pg_constraint c
		JOIN pg_class st ON st.oid = c.conrelid
		JOIN pg_namespace sn ON sn.oid = st.relnamespace
		JOIN pg_class tt ON tt.oid = c.confrelid
		JOIN pg_namespace tn ON tn.oid = tt.relnamespace
		CROSS JOIN LATERAL unnest(c.conkey, c.confkey) WITH ORDINALITY AS k(src, dst, ord)
		JOIN pg_attribute sa ON sa.attrelid = c.conrelid AND sa.attnum = k.src
		JOIN pg_attribute ta ON ta.attrelid = c.confrelid AND ta.attnum = k.dst
		WHERE c.contype = 'f'
		  AND sn.nspname = ANY($1)
		GROUP BY sn.nspname, st.relname, c.conname, tn.nspname, tt.relname
		ORDER BY sn.nspname, st.relname, c.conname
	`

	rows, err := d.db.Query(ctx, query, schemas)
	if err != nil {
		return nil, classifyError(fmt.Errorf("query foreign keys: %w", err))
	}
	defer rows.Close()

	result := make(map[models.TableReference][]models.ForeignKeyInfo)
	for rows.Next() {
		var ref models.TableReference
		var name string
		var fk models.ForeignKeyInfo
		if err := rows.Scan(&ref.Schema, &ref.Table, &name, &fk.LocalColumns,
			&fk.ReferencedTable.Schema, &fk.ReferencedTable.Table, &fk.ReferencedColumns); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		result[ref] = append(result[ref], fk)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("iterate foreign keys: %w", err))
	}
	return result, nil
}

// GeometryColumns returns the geometry_columns registry rows for schemas.
// An SRID of 0 is reported as unknown. A database without PostGIS has no
// registry and yields an empty result.
func (d *SchemaDiscoverer) GeometryColumns(ctx context.Context, schemas []string) (map[models.TableReference][]models.GeometryInfo, error) {
	const query = `
		SELECT f_table_schema::text, f_table_name::text, f_geometry_column::text,
		       NULLIF(srid, 0), NULLIF(type, '')
		FROM public.geometry_columns
		WHERE f_table_schema = ANY($1)
		ORDER BY f_table_schema, f_table_name, f_geometry_column
	`

	result := make(map[models.TableReference][]models.GeometryInfo)

	rows, err := d.db.Query(ctx, query, schemas)
	if err != nil {
		if isUndefinedTable(err) {
			d.logger.Warn("geometry_columns registry not found; PostGIS may not be installed")
			return result, nil
		}
		return nil, classifyError(fmt.Errorf("query geometry columns: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var ref models.TableReference
		var g models.GeometryInfo
		if err := rows.Scan(&ref.Schema, &ref.Table, &g.Column, &g.SRID, &g.GeometryType); err != nil {
			return nil, fmt.Errorf("scan geometry column: %w", err)
		}
		result[ref] = append(result[ref], g)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			d.logger.Warn("geometry_columns registry not found; PostGIS may not be installed")
			return make(map[models.TableReference][]models.GeometryInfo), nil
		}
		return nil, classifyError(fmt.Errorf("iterate geometry columns: %w", err))
	}
	return result, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

// Ensure SchemaDiscoverer implements MetadataSource at compile time.
var _ datasource.MetadataSource = (*SchemaDiscoverer)(nil)
