package models

import "strings"

// TableReference identifies a table by schema and name.
// Equality is case-sensitive on both parts.
type TableReference struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

// String returns the reference as "schema.table".
func (r TableReference) String() string {
	return r.Schema + "." + r.Table
}

// ColumnInfo describes a single table column.
type ColumnInfo struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	IsNullable   bool   `json:"is_nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// GeometryInfo describes the geometry column chosen for a table.
// A nil SRID means the reference system is unknown, not absent.
type GeometryInfo struct {
	Column       string  `json:"column"`
	SRID         *int    `json:"srid,omitempty"`
	GeometryType *string `json:"geometry_type,omitempty"`
}

// IndexInfo describes an index and the columns it covers, in key order.
type IndexInfo struct {
	Name         string   `json:"name"`
	AccessMethod string   `json:"access_method"` // gist, brin, btree, ...
	Columns      []string `json:"columns"`
}

// IsSpatial reports whether the index uses an access method able to serve
// spatial predicates.
func (i IndexInfo) IsSpatial() bool {
	switch strings.ToLower(i.AccessMethod) {
	case "gist", "brin", "spgist":
		return true
	default:
		return false
	}
}

// ForeignKeyInfo describes one foreign key constraint.
type ForeignKeyInfo struct {
	LocalColumns      []string       `json:"local_columns"`
	ReferencedTable   TableReference `json:"referenced_table"`
	ReferencedColumns []string       `json:"referenced_columns"`
}

// TableInfo aggregates the structural metadata of one base table.
type TableInfo struct {
	Ref         TableReference   `json:"ref"`
	Columns     []ColumnInfo     `json:"columns"`
	PKColumns   []string         `json:"pk_columns"` // declared key order
	Geometry    *GeometryInfo    `json:"geometry,omitempty"`
	Indexes     []IndexInfo      `json:"indexes,omitempty"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys,omitempty"`
}

// ColumnNames returns the column names in ordinal order.
func (t *TableInfo) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the table has a column with exactly this name.
func (t *TableInfo) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// SRID returns the geometry SRID, or nil when unknown.
func (t *TableInfo) SRID() *int {
	if t == nil || t.Geometry == nil {
		return nil
	}
	return t.Geometry.SRID
}

// TableOverride holds caller-supplied values that replace catalog-derived
// hints in schema context lines. Empty fields fall through to the catalog.
type TableOverride struct {
	PK      string `json:"pk,omitempty" yaml:"pk"`
	GeomCol string `json:"geom_col,omitempty" yaml:"geom_col"`
	SRID    string `json:"srid,omitempty" yaml:"srid"`
}
