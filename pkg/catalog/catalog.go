// Package catalog holds the structural schema metadata of the allow-listed
// schemas and the column heuristics derived from it.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/geosql-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/geosql-gateway/pkg/models"
)

// PreferredGeometryOrder lists geometry column names by preference.
var PreferredGeometryOrder = []string{"geometria", "geometry", "geom", "the_geom"}

// IdentifierPreference lists common identifier column names tried when a
// table has no declared primary key.
var IdentifierPreference = []string{"objectid", "gid", "id", "pk", "codigo", "cod", "cod_id"}

var integerTypes = map[string]struct{}{
	"integer": {}, "bigint": {}, "smallint": {},
	"int": {}, "int2": {}, "int4": {}, "int8": {},
}

type snapshot struct {
	tables   map[models.TableReference]*models.TableInfo
	order    []models.TableReference
	loadedAt time.Time
}

// Catalog maps (schema, table) to TableInfo. It is safe for concurrent
// readers; Load replaces the whole mapping in one swap.
type Catalog struct {
	current atomic.Pointer[snapshot]
	logger  *zap.Logger
}

// New returns an empty catalog. If logger is nil, a no-op logger is used.
func New(logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{logger: logger.Named("catalog")}
	c.current.Store(&snapshot{tables: map[models.TableReference]*models.TableInfo{}})
	return c
}

// Load reads metadata for every base table in schemas and swaps it in.
// On error the previous mapping stays in place.
func (c *Catalog) Load(ctx context.Context, src datasource.MetadataSource, schemas []string) error {
	started := time.Now()

	refs, err := src.ListBaseTables(ctx, schemas)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	columns, err := src.Columns(ctx, schemas)
	if err != nil {
		return fmt.Errorf("load columns: %w", err)
	}
	pks, err := src.PrimaryKeys(ctx, schemas)
	if err != nil {
		return fmt.Errorf("load primary keys: %w", err)
	}
	indexes, err := src.Indexes(ctx, schemas)
	if err != nil {
		return fmt.Errorf("load indexes: %w", err)
	}
	fks, err := src.ForeignKeys(ctx, schemas)
	if err != nil {
		return fmt.Errorf("load foreign keys: %w", err)
	}
	geoms, err := src.GeometryColumns(ctx, schemas)
	if err != nil {
		return fmt.Errorf("load geometry columns: %w", err)
	}

	next := &snapshot{
		tables:   make(map[models.TableReference]*models.TableInfo, len(refs)),
		order:    make([]models.TableReference, 0, len(refs)),
		loadedAt: time.Now(),
	}
	for _, ref := range refs {
		if _, dup := next.tables[ref]; dup {
			continue
		}
		next.tables[ref] = assemble(ref, columns[ref], pks[ref], indexes[ref], fks[ref], geoms[ref])
		next.order = append(next.order, ref)
	}
	sortRefs(next.order)

	c.current.Store(next)

	c.logger.Info("Schema catalog loaded",
		zap.Strings("schemas", schemas),
		zap.Int("tables", len(next.order)),
		zap.Duration("elapsed", time.Since(started)))
	if c.logger.Core().Enabled(zap.DebugLevel) {
		for _, ref := range next.order {
			c.logger.Debug("Catalog table", zap.String("table", DescribeTable(next.tables[ref])))
		}
	}
	return nil
}

// Replace swaps in a prebuilt set of tables. Used by tests and by callers
// that obtain metadata elsewhere.
func (c *Catalog) Replace(tables []*models.TableInfo) {
	next := &snapshot{
		tables:   make(map[models.TableReference]*models.TableInfo, len(tables)),
		loadedAt: time.Now(),
	}
	for _, t := range tables {
		if _, dup := next.tables[t.Ref]; dup {
			continue
		}
		next.tables[t.Ref] = t
		next.order = append(next.order, t.Ref)
	}
	sortRefs(next.order)
	c.current.Store(next)
}

func sortRefs(refs []models.TableReference) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Schema != refs[j].Schema {
			return refs[i].Schema < refs[j].Schema
		}
		return refs[i].Table < refs[j].Table
	})
}

// Get returns the table, or nil when the catalog does not know it.
func (c *Catalog) Get(schema, table string) *models.TableInfo {
	return c.current.Load().tables[models.TableReference{Schema: schema, Table: table}]
}

// Lookup is Get keyed by reference.
func (c *Catalog) Lookup(ref models.TableReference) *models.TableInfo {
	return c.current.Load().tables[ref]
}

// Tables returns all known tables ordered by schema and name.
func (c *Catalog) Tables() []*models.TableInfo {
	snap := c.current.Load()
	out := make([]*models.TableInfo, 0, len(snap.order))
	for _, ref := range snap.order {
		out = append(out, snap.tables[ref])
	}
	return out
}

// Len returns the number of tables.
func (c *Catalog) Len() int {
	return len(c.current.Load().tables)
}

// LoadedAt returns when the current mapping was swapped in, or the zero time.
func (c *Catalog) LoadedAt() time.Time {
	return c.current.Load().loadedAt
}

func assemble(
	ref models.TableReference,
	columns []models.ColumnInfo,
	pk []string,
	indexes []models.IndexInfo,
	fks []models.ForeignKeyInfo,
	geoms []models.GeometryInfo,
) *models.TableInfo {
	ti := &models.TableInfo{
		Ref:         ref,
		Columns:     append([]models.ColumnInfo(nil), columns...),
		Indexes:     indexes,
		ForeignKeys: fks,
	}

	// Keep only key columns that exist, preserving declared order.
	for _, name := range pk {
		if ti.HasColumn(name) {
			ti.PKColumns = append(ti.PKColumns, name)
		}
	}
	for i := range ti.Columns {
		ti.Columns[i].IsPrimaryKey = false
		for _, name := range ti.PKColumns {
			if ti.Columns[i].Name == name {
				ti.Columns[i].IsPrimaryKey = true
				break
			}
		}
	}

	ti.Geometry = pickGeometry(geoms, ti.Columns)
	return ti
}

// pickGeometry chooses one geometry column: registry rows first, sorted by
// preference rank with unknown names last; else a name match on columns.
func pickGeometry(registry []models.GeometryInfo, columns []models.ColumnInfo) *models.GeometryInfo {
	if len(registry) > 0 {
		rows := append([]models.GeometryInfo(nil), registry...)
		sort.SliceStable(rows, func(i, j int) bool {
			return geometryRank(rows[i].Column) < geometryRank(rows[j].Column)
		})
		best := rows[0]
		return &best
	}

	best := ""
	bestRank := len(PreferredGeometryOrder)
	for _, c := range columns {
		if r := geometryRank(c.Name); r < bestRank {
			best, bestRank = c.Name, r
		}
	}
	if best == "" {
		return nil
	}
	return &models.GeometryInfo{Column: best}
}

func geometryRank(name string) int {
	lower := strings.ToLower(name)
	for i, pref := range PreferredGeometryOrder {
		if lower == pref {
			return i
		}
	}
	return len(PreferredGeometryOrder)
}

// SuggestPrimaryKey returns the column most likely to identify rows: the
// first declared primary key column, else a common identifier name
// (case-insensitive), else the first non-nullable integer column.
func SuggestPrimaryKey(ti *models.TableInfo) string {
	if ti == nil {
		return ""
	}
	if len(ti.PKColumns) > 0 {
		return ti.PKColumns[0]
	}
	for _, name := range IdentifierPreference {
		for _, c := range ti.Columns {
			if strings.EqualFold(c.Name, name) {
				return c.Name
			}
		}
	}
	for _, c := range ti.Columns {
		if !c.IsNullable && isIntegerType(c.DataType) {
			return c.Name
		}
	}
	return ""
}

// PreferredGeometry returns the table's geometry column, or the first
// column matching PreferredGeometryOrder by preference rank.
func PreferredGeometry(ti *models.TableInfo) string {
	if ti == nil {
		return ""
	}
	if ti.Geometry != nil {
		return ti.Geometry.Column
	}
	for _, pref := range PreferredGeometryOrder {
		for _, c := range ti.Columns {
			if strings.EqualFold(c.Name, pref) {
				return c.Name
			}
		}
	}
	return ""
}

func isIntegerType(dataType string) bool {
	_, ok := integerTypes[strings.ToLower(strings.TrimSpace(dataType))]
	return ok
}
