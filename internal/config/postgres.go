package config

import (
	"fmt"
)

// PostgresConfig holds configuration for the run history database
type PostgresConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Host     string `mapstructure:"host"`
}

// LoadPostgresConfig loads PostgreSQL configuration from environment variables
func LoadPostgresConfig(getenv func(string) string) (*PostgresConfig, error) {
	config := &PostgresConfig{
		User:     getenv("POSTGRES_USER"),
		Password: getenv("POSTGRES_PASSWORD"),
		Database: getenv("POSTGRES_DB"),
		Host:     getenv("POSTGRES_HOSTNAME"),
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Enabled reports whether run history storage was configured at all
func (c *PostgresConfig) Enabled() bool {
	return c != nil && c.Host != ""
}

// Validate checks all required fields are set
func (c *PostgresConfig) Validate() error {
	if c.User == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.Password == "" {
		return fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if c.Database == "" {
		return fmt.Errorf("POSTGRES_DB is required")
	}
	if c.Host == "" {
		return fmt.Errorf("POSTGRES_HOSTNAME is required")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.User, c.Password, c.Database)
}
