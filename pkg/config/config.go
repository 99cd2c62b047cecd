package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/geosql-gateway/pkg/models"
)

// Config holds all configuration for the gateway.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Log LogConfig `yaml:"log"`

	// Database configuration (PostgreSQL with PostGIS)
	Database DatabaseConfig `yaml:"database"`

	Gateway GatewayConfig `yaml:"gateway"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"gis"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"gis"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// GatewayConfig holds the limits applied to every statement.
type GatewayConfig struct {
	// AllowedSchemas bounds the catalog. Tables outside these schemas are
	// never described.
	AllowedSchemas []string `yaml:"allowed_schemas" env:"GATEWAY_ALLOWED_SCHEMAS" env-separator:"," env-default:"public,datos_crudos,datos_maestros,medio_fisico,specimen"`

	// SearchPath resolves unqualified table names at execution time.
	SearchPath []string `yaml:"search_path" env:"GATEWAY_SEARCH_PATH" env-separator:"," env-default:"datos_crudos,datos_maestros,medio_fisico,specimen,public"`

	StatementTimeout         time.Duration `yaml:"statement_timeout" env:"GATEWAY_STATEMENT_TIMEOUT" env-default:"15s"`
	IdleInTransactionTimeout time.Duration `yaml:"idle_in_transaction_timeout" env:"GATEWAY_IDLE_IN_TRANSACTION_TIMEOUT" env-default:"10s"`
	ExplainTimeout           time.Duration `yaml:"explain_timeout" env:"GATEWAY_EXPLAIN_TIMEOUT" env-default:"5s"`

	CostCeiling       float64 `yaml:"cost_ceiling" env:"GATEWAY_COST_CEILING" env-default:"5000000"`
	DefaultRowCap     int     `yaml:"default_row_cap" env:"GATEWAY_DEFAULT_ROW_CAP" env-default:"500"`
	ContextCharBudget int     `yaml:"context_char_budget" env:"GATEWAY_CONTEXT_CHAR_BUDGET" env-default:"5000"`

	// ContextOverridesFile optionally points to a YAML map of
	// "schema.table" -> {pk, geom_col, srid}.
	ContextOverridesFile string `yaml:"context_overrides_file" env:"GATEWAY_CONTEXT_OVERRIDES_FILE" env-default:""`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD) must come
// from environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks gateway limits. Every search path entry must be an
// allowed schema or public.
func (c *Config) Validate() error {
	g := c.Gateway
	if len(g.AllowedSchemas) == 0 {
		return errors.New("gateway.allowed_schemas must not be empty")
	}
	for _, s := range g.SearchPath {
		if s != "public" && !slices.Contains(g.AllowedSchemas, s) {
			return fmt.Errorf("gateway.search_path schema %q is not in allowed_schemas", s)
		}
	}

	if g.StatementTimeout <= 0 {
		return errors.New("gateway.statement_timeout must be positive")
	}
	if g.IdleInTransactionTimeout <= 0 {
		return errors.New("gateway.idle_in_transaction_timeout must be positive")
	}
	if g.ExplainTimeout <= 0 {
		return errors.New("gateway.explain_timeout must be positive")
	}
	if g.CostCeiling <= 0 {
		return errors.New("gateway.cost_ceiling must be positive")
	}
	if g.DefaultRowCap <= 0 {
		return errors.New("gateway.default_row_cap must be positive")
	}
	if g.ContextCharBudget <= 0 {
		return errors.New("gateway.context_char_budget must be positive")
	}
	return nil
}

// LoadTableOverrides reads per-table context overrides from path. An empty
// path yields no overrides.
func LoadTableOverrides(path string) (map[string]models.TableOverride, error) {
	if path == "" {
		return map[string]models.TableOverride{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context overrides: %w", err)
	}

	overrides := map[string]models.TableOverride{}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse context overrides %s: %w", path, err)
	}
	return overrides, nil
}
