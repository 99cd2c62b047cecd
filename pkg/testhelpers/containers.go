// Package testhelpers provides a shared PostGIS database for integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ekaya-inc/geosql-gateway/pkg/retry"
)

// PostGISImage is the database image used by integration tests.
const PostGISImage = "postgis/postgis:16-3.4"

const (
	testUser     = "gis"
	testPassword = "test_password"
	testDatabase = "geo_test"
)

// TestDB holds a shared test database container and connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
	Host      string
	Port      int
	User      string
	Password  string
	Database  string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostGIS container for integration tests.
// The container is created once, seeded with the fixture schemas and reused
// across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostGISImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       testDatabase,
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		// The entrypoint restarts the server once after running init scripts.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(120 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		testUser, testPassword, host, port.Port(), testDatabase)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	cfg := &retry.Config{MaxRetries: 10, InitialDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2}
	if err := retry.Do(ctx, cfg, func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("test database never became reachable: %w", err)
	}

	if _, err := pool.Exec(ctx, fixtureSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to load fixture schema: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
		Host:      host,
		Port:      port.Int(),
		User:      testUser,
		Password:  testPassword,
		Database:  testDatabase,
	}, nil
}

// fixtureSQL creates two allow-listed schemas with spatial tables, a GiST
// index, a composite foreign key and a table with no spatial registry entry.
const fixtureSQL = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE SCHEMA IF NOT EXISTS datos_maestros;
CREATE SCHEMA IF NOT EXISTS datos_crudos;
CREATE SCHEMA IF NOT EXISTS privado;

CREATE TABLE datos_maestros.dpa_region_subdere (
	objectid integer PRIMARY KEY,
	codregion text NOT NULL,
	nombre text,
	geometria geometry(MultiPolygon, 32719)
);
CREATE INDEX dpa_region_subdere_geom_idx ON datos_maestros.dpa_region_subdere USING gist (geometria);

CREATE TABLE datos_maestros.comunas (
	region integer NOT NULL,
	comuna integer NOT NULL,
	nombre text,
	geom geometry(Polygon, 4326),
	PRIMARY KEY (region, comuna)
);

CREATE TABLE datos_crudos.pozos (
	codigo text NOT NULL,
	region integer,
	comuna integer,
	the_geom geometry(Point, 4326),
	FOREIGN KEY (region, comuna) REFERENCES datos_maestros.comunas (region, comuna)
);

CREATE TABLE datos_crudos.lecturas (
	gid bigint NOT NULL,
	valor double precision
);

CREATE TABLE privado.secretos (
	id integer PRIMARY KEY
);

INSERT INTO datos_maestros.dpa_region_subdere (objectid, codregion, nombre, geometria)
SELECT g, lpad(g::text, 2, '0'), 'Region ' || g,
       ST_Multi(ST_MakeEnvelope(300000 + g * 1000, 6000000, 300500 + g * 1000, 6000500, 32719))
FROM generate_series(1, 16) AS g;

INSERT INTO datos_maestros.comunas (region, comuna, nombre, geom)
VALUES (13, 1, 'Santiago', ST_MakeEnvelope(-70.7, -33.5, -70.6, -33.4, 4326));

INSERT INTO datos_crudos.pozos (codigo, region, comuna, the_geom)
SELECT 'P' || g, 13, 1, ST_SetSRID(ST_MakePoint(-70.65, -33.45), 4326)
FROM generate_series(1, 50) AS g;

ANALYZE;
`
