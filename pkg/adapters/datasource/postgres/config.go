package postgres

import (
	"fmt"
	"net/url"
)

// Config contains PostgreSQL connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
	MaxConns int32
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// Validate reports missing connection fields.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("host is required")
	case c.User == "":
		return fmt.Errorf("user is required")
	case c.Database == "":
		return fmt.Errorf("database is required")
	}
	return nil
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// User, password and database are URL-escaped so that characters such as
// @, /, # and ? in a password cannot break URL parsing.
func buildConnectionString(cfg *Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort()
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		port,
		url.QueryEscape(cfg.Database),
		url.QueryEscape(sslMode),
	)
}
