//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/geosql-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/geosql-gateway/pkg/apperrors"
	"github.com/ekaya-inc/geosql-gateway/pkg/models"
	"github.com/ekaya-inc/geosql-gateway/pkg/testhelpers"
)

var fixtureSchemas = []string{"datos_crudos", "datos_maestros"}

func TestAdapter_Integration(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	adapter, err := NewAdapter(ctx, &Config{
		Host:     testDB.Host,
		Port:     testDB.Port,
		User:     testDB.User,
		Password: testDB.Password,
		Database: testDB.Database,
		SSLMode:  "disable",
	}, nil)
	require.NoError(t, err)
	defer adapter.Close()

	require.NoError(t, adapter.TestConnection(ctx))

	version, err := adapter.ServerVersion(ctx)
	require.NoError(t, err)
	assert.Contains(t, version, "PostgreSQL")
}

func TestSchemaDiscoverer_Integration(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()
	d := NewSchemaDiscoverer(testDB.Pool, nil)

	region := models.TableReference{Schema: "datos_maestros", Table: "dpa_region_subdere"}
	comunas := models.TableReference{Schema: "datos_maestros", Table: "comunas"}
	pozos := models.TableReference{Schema: "datos_crudos", Table: "pozos"}

	tables, err := d.ListBaseTables(ctx, fixtureSchemas)
	require.NoError(t, err)
	assert.Contains(t, tables, region)
	assert.Contains(t, tables, pozos)
	for _, ref := range tables {
		assert.NotEqual(t, "privado", ref.Schema, "schemas outside the allow-list are never listed")
	}

	columns, err := d.Columns(ctx, fixtureSchemas)
	require.NoError(t, err)
	require.Len(t, columns[region], 4)
	assert.Equal(t, "objectid", columns[region][0].Name)
	assert.Equal(t, "integer", columns[region][0].DataType)
	assert.False(t, columns[region][0].IsNullable)
	assert.True(t, columns[region][2].IsNullable)

	pks, err := d.PrimaryKeys(ctx, fixtureSchemas)
	require.NoError(t, err)
	assert.Equal(t, []string{"objectid"}, pks[region])
	assert.Equal(t, []string{"region", "comuna"}, pks[comunas], "declared key order")

	indexes, err := d.Indexes(ctx, fixtureSchemas)
	require.NoError(t, err)
	var spatial []models.IndexInfo
	for _, idx := range indexes[region] {
		if idx.IsSpatial() {
			spatial = append(spatial, idx)
		}
	}
	require.Len(t, spatial, 1)
	assert.Equal(t, "gist", spatial[0].AccessMethod)
	assert.Equal(t, []string{"geometria"}, spatial[0].Columns)

	fks, err := d.ForeignKeys(ctx, fixtureSchemas)
	require.NoError(t, err)
	require.Len(t, fks[pozos], 1)
	assert.Equal(t, []string{"region", "comuna"}, fks[pozos][0].LocalColumns)
	assert.Equal(t, comunas, fks[pozos][0].ReferencedTable)
	assert.Equal(t, []string{"region", "comuna"}, fks[pozos][0].ReferencedColumns)

	geoms, err := d.GeometryColumns(ctx, fixtureSchemas)
	require.NoError(t, err)
	require.Len(t, geoms[region], 1)
	assert.Equal(t, "geometria", geoms[region][0].Column)
	require.NotNil(t, geoms[region][0].SRID)
	assert.Equal(t, 32719, *geoms[region][0].SRID)
	require.NotNil(t, geoms[region][0].GeometryType)
	assert.Equal(t, "MULTIPOLYGON", *geoms[region][0].GeometryType)
}

func TestQueryExecutor_Integration(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	exec := NewQueryExecutor(testDB.Pool, ExecutorConfig{
		Session: datasource.SessionSettings{
			StatementTimeout:         2 * time.Second,
			IdleInTransactionTimeout: 2 * time.Second,
			SearchPath:               []string{"datos_crudos", "datos_maestros", "public"},
		},
	}, nil)

	t.Run("row cap appended", func(t *testing.T) {
		rows, err := exec.Execute(ctx, "SELECT codigo FROM pozos", 7)
		require.NoError(t, err)
		assert.Len(t, rows, 7)
		assert.Contains(t, rows[0], "codigo")
	})

	t.Run("own limit larger than cap", func(t *testing.T) {
		rows, err := exec.Execute(ctx, "SELECT codigo FROM pozos LIMIT 40", 5)
		require.NoError(t, err)
		assert.Len(t, rows, 5)
	})

	t.Run("search path resolves unqualified tables", func(t *testing.T) {
		rows, err := exec.Execute(ctx, "SELECT objectid FROM dpa_region_subdere ORDER BY objectid", 3)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.EqualValues(t, 1, rows[0]["objectid"])
	})

	t.Run("writes are rejected by the read-only transaction", func(t *testing.T) {
		_, err := exec.Execute(ctx, "SELECT 1 FROM pozos; DELETE FROM pozos", 5)
		assert.Error(t, err)

		var n int
		require.NoError(t, testDB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM datos_crudos.pozos").Scan(&n))
		assert.Equal(t, 50, n)
	})

	t.Run("statement timeout", func(t *testing.T) {
		_, err := exec.Execute(ctx, "SELECT pg_sleep(5)", 1)
		assert.ErrorIs(t, err, apperrors.ErrTimeout)
	})

	t.Run("explain", func(t *testing.T) {
		plan, err := exec.Explain(ctx, "SELECT * FROM datos_crudos.pozos p JOIN datos_maestros.comunas c ON p.region = c.region")
		require.NoError(t, err)
		assert.NotEmpty(t, plan.NodeType)
		require.NotNil(t, plan.TotalCost)
		assert.Greater(t, *plan.TotalCost, 0.0)
	})

	t.Run("explain of unknown column", func(t *testing.T) {
		_, err := exec.Explain(ctx, "SELECT nope FROM datos_crudos.pozos")
		assert.ErrorIs(t, err, apperrors.ErrQueryFailed)
	})
}
