package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseMode represents the database operational mode
type DatabaseMode string

const (
	DatabaseModeEmbedded DatabaseMode = "embedded" // SQLite for testing/development
	DatabaseModeExternal DatabaseMode = "external" // PostgreSQL/MySQL for production
)

// DatabaseConfig with dual mode support
type DatabaseConfig struct {
	Mode       DatabaseMode           `yaml:"mode"`           // embedded or external
	Type       string                 `yaml:"type"`           // sqlite, postgresql, mysql
	Connection map[string]interface{} `yaml:"connection"`     // Legacy connection config
	Embedded   *EmbeddedDBConfig      `yaml:"embedded"`       // Embedded database config
	External   *ExternalDBConfig      `yaml:"external"`       // External database config
	Settings   *DatabaseSettings      `yaml:"settings"`       // Common settings
	Pool       *PoolConfig            `yaml:"pool,omitempty"` // Pool configuration for compatibility
}

// EmbeddedDBConfig represents embedded database configuration (SQLite)
type EmbeddedDBConfig struct {
	Type            string       `yaml:"type"`             // sqlite, leveldb, etc.
	Path            string       `yaml:"path"`             // Database file path
	MigrationPath   string       `yaml:"migration_path"`   // Migration files path
	BackupEnabled   bool         `yaml:"backup_enabled"`   // Enable automatic backups
	BackupInterval  string       `yaml:"backup_interval"`  // Backup interval
	BackupRetention int          `yaml:"backup_retention"` // Number of backups to keep
	WALMode         bool         `yaml:"wal_mode"`         // SQLite WAL mode
	Cache           *CacheConfig `yaml:"cache"`            // Cache configuration
}

// ExternalDBConfig represents external database configuration with read/write separation
type ExternalDBConfig struct {
	Type string `yaml:"type"` // postgresql, mysql

	// Writer endpoint configuration
	WriterEndpoint string `yaml:"writer_endpoint"` // Writer endpoint (host:port)

	// Reader endpoint configuration
	ReaderUseWriter bool   `yaml:"reader_use_writer"` // Use writer endpoint for reads
	ReaderEndpoint  string `yaml:"reader_endpoint"`   // Reader endpoint (host:port)

	// Legacy single endpoint support (deprecated)
	Host string `yaml:"host,omitempty"` // Database host (legacy)
	Port int    `yaml:"port,omitempty"` // Database port (legacy)

	// Database credentials and settings
	Database string `yaml:"database"` // Database name
	Username string `yaml:"username"` // Database username
	Password string `yaml:"password"` // Database password
	SSLMode  string `yaml:"ssl_mode"` // SSL mode

	// Connection pool settings
	MaxConnections  int    `yaml:"max_connections"`   // Max total connections
	MaxIdleConns    int    `yaml:"max_idle_conns"`    // Max idle connections
	ConnMaxLifetime string `yaml:"conn_max_lifetime"` // Connection max lifetime

	// Reader-specific connection pool settings
	ReaderMaxConnections int `yaml:"reader_max_connections"` // Max reader connections
	ReaderMaxIdleConns   int `yaml:"reader_max_idle_conns"`  // Max reader idle connections

	// Schema and migration settings
	MigrationPath string `yaml:"migration_path"` // Migration files path
	Schema        string `yaml:"schema"`         // Database schema

	// Additional connection options
	Options map[string]string `yaml:"options"` // Additional options

	// Failover settings
	Failover *FailoverConfig `yaml:"failover"` // Failover configuration
}

// FailoverConfig represents database failover configuration
type FailoverConfig struct {
	Enabled                bool   `yaml:"enabled"`                   // Enable automatic failover
	HealthCheckInterval    string `yaml:"health_check_interval"`     // Health check interval
	FailoverTimeout        string `yaml:"failover_timeout"`          // Timeout before failover
	RetryInterval          string `yaml:"retry_interval"`            // Retry interval
	MaxRetries             int    `yaml:"max_retries"`               // Maximum retry attempts
	ReaderToWriterFallback bool   `yaml:"reader_to_writer_fallback"` // Fallback reads to writer on failure
}

// DatabaseEndpoints represents the actual connection endpoints
type DatabaseEndpoints struct {
	Writer string
	Reader string
}

// DatabaseSettings represents common database settings
type DatabaseSettings struct {
	LogQueries     bool   `yaml:"log_queries"`     // Log SQL queries
	Timeout        string `yaml:"timeout"`         // Query timeout
	RetryAttempts  int    `yaml:"retry_attempts"`  // Number of retry attempts
	RetryDelay     string `yaml:"retry_delay"`     // Delay between retries
	HealthCheck    bool   `yaml:"health_check"`    // Enable health checks
	HealthInterval string `yaml:"health_interval"` // Health check interval
	MetricsEnabled bool   `yaml:"metrics_enabled"` // Enable database metrics
}

// CacheConfig represents database cache configuration
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`    // Enable caching
	Size      int    `yaml:"size"`       // Cache size in MB
	TTL       string `yaml:"ttl"`        // Time to live
	Type      string `yaml:"type"`       // Cache type (memory, redis)
	RedisAddr string `yaml:"redis_addr"` // Redis address for distributed cache
}

// GetConnectionString returns the appropriate connection string based on mode
func (c *DatabaseConfig) GetConnectionString() (string, error) {
	switch c.Mode {
	case DatabaseModeEmbedded:
		if c.Embedded == nil {
			return "", fmt.Errorf("embedded configuration is required for embedded mode")
		}
		return c.getEmbeddedConnectionString()
	case DatabaseModeExternal:
		if c.External == nil {
			return "", fmt.Errorf("external configuration is required for external mode")
		}
		return c.getExternalConnectionString("writer")
	default:
		return "", fmt.Errorf("unsupported database mode: %s", c.Mode)
	}
}

// GetWriterConnectionString returns the writer connection string
func (c *DatabaseConfig) GetWriterConnectionString() (string, error) {
	if c.Mode != DatabaseModeExternal {
		return c.GetConnectionString()
	}
	return c.getExternalConnectionString("writer")
}

// GetReaderConnectionString returns the reader connection string
func (c *DatabaseConfig) GetReaderConnectionString() (string, error) {
	if c.Mode != DatabaseModeExternal {
		return c.GetConnectionString()
	}
	return c.getExternalConnectionString("reader")
}

// GetEndpoints returns the database endpoints configuration
func (c *DatabaseConfig) GetEndpoints() (*DatabaseEndpoints, error) {
	if c.Mode != DatabaseModeExternal {
		connStr, err := c.GetConnectionString()
		return &DatabaseEndpoints{
			Writer: connStr,
			Reader: connStr,
		}, err
	}

	endpoints := &DatabaseEndpoints{}

	// Parse writer endpoint
	if c.External.WriterEndpoint == "" {
		// Fallback to legacy host:port format
		if c.External.Host != "" && c.External.Port > 0 {
			endpoints.Writer = fmt.Sprintf("%s:%d", c.External.Host, c.External.Port)
		} else {
			return nil, fmt.Errorf("writer endpoint not configured")
		}
	} else {
		endpoints.Writer = c.External.WriterEndpoint
	}

	// Parse reader endpoint
	if c.External.ReaderUseWriter {
		endpoints.Reader = endpoints.Writer
	} else {
		if c.External.ReaderEndpoint == "" {
			return nil, fmt.Errorf("reader endpoint not configured when reader_use_writer is false")
		}
		endpoints.Reader = c.External.ReaderEndpoint
	}

	return endpoints, nil
}

// getEmbeddedConnectionString returns connection string for embedded database
func (c *DatabaseConfig) getEmbeddedConnectionString() (string, error) {
	switch c.Embedded.Type {
	case "sqlite":
		params := "?_journal_mode=WAL&_sync=NORMAL&_cache_size=1000"
		if !c.Embedded.WALMode {
			params = "?_journal_mode=DELETE"
		}
		return c.Embedded.Path + params, nil
	default:
		return "", fmt.Errorf("unsupported embedded database type: %s", c.Embedded.Type)
	}
}

// getExternalConnectionString returns connection string for external database
func (c *DatabaseConfig) getExternalConnectionString(endpoint string) (string, error) {
	endpoints, err := c.GetEndpoints()
	if err != nil {
		return "", err
	}

	var hostPort string
	switch endpoint {
	case "writer":
		hostPort = endpoints.Writer
	case "reader":
		hostPort = endpoints.Reader
	default:
		return "", fmt.Errorf("invalid endpoint type: %s", endpoint)
	}

	parts := strings.Split(hostPort, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid endpoint format: %s", hostPort)
	}

	host := parts[0]
	port := parts[1]

	switch c.External.Type {
	case "postgresql":
		connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, c.External.Username, c.External.Password,
			c.External.Database, c.External.SSLMode)

		for key, value := range c.External.Options {
			connStr += fmt.Sprintf(" %s=%s", key, value)
		}

		return connStr, nil

	case "mysql":
		connStr := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
			c.External.Username, c.External.Password, host, port, c.External.Database)

		if c.External.SSLMode != "" {
			connStr += "&tls=" + c.External.SSLMode
		}

		for key, value := range c.External.Options {
			connStr += fmt.Sprintf("&%s=%s", key, value)
		}

		return connStr, nil

	default:
		return "", fmt.Errorf("unsupported external database type: %s", c.External.Type)
	}
}

// GetDatabaseType returns the database type based on mode
func (c *DatabaseConfig) GetDatabaseType() string {
	switch c.Mode {
	case DatabaseModeEmbedded:
		if c.Embedded != nil {
			return c.Embedded.Type
		}
	case DatabaseModeExternal:
		if c.External != nil {
			return c.External.Type
		}
	}
	return c.Type // Fallback to legacy type
}

// IsEmbedded returns true if using embedded database
func (c *DatabaseConfig) IsEmbedded() bool {
	return c.Mode == DatabaseModeEmbedded
}

// IsExternal returns true if using external database
func (c *DatabaseConfig) IsExternal() bool {
	return c.Mode == DatabaseModeExternal
}

// GetMigrationPath returns the migration path
func (c *DatabaseConfig) GetMigrationPath() string {
	switch c.Mode {
	case DatabaseModeEmbedded:
		if c.Embedded != nil && c.Embedded.MigrationPath != "" {
			return c.Embedded.MigrationPath
		}
	case DatabaseModeExternal:
		if c.External != nil && c.External.MigrationPath != "" {
			return c.External.MigrationPath
		}
	}
	return "./migrations"
}

// NewDatabaseConfig creates a new database configuration with defaults
func NewDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Mode: DatabaseModeEmbedded,
		Type: "sqlite",
		Embedded: &EmbeddedDBConfig{
			Type:            "sqlite",
			Path:            "./data/hoststar.db",
			MigrationPath:   "./migrations",
			BackupEnabled:   true,
			BackupInterval:  "24h",
			BackupRetention: 7,
			WALMode:         true,
			Cache: &CacheConfig{
				Enabled: true,
				Size:    64,
				TTL:     "1h",
				Type:    "memory",
			},
		},
		External: &ExternalDBConfig{
			Type:                 "postgresql",
			WriterEndpoint:       "localhost:5432",
			ReaderUseWriter:      true,
			ReaderEndpoint:       "",
			Database:             "hoststar",
			Username:             "hoststar",
			Password:             "",
			SSLMode:              "require",
			MaxConnections:       100,
			MaxIdleConns:         10,
			ReaderMaxConnections: 50,
			ReaderMaxIdleConns:   5,
			ConnMaxLifetime:      "1h",
			MigrationPath:        "./migrations",
			Schema:               "public",
			Options:              make(map[string]string),
			Failover: &FailoverConfig{
				Enabled:                true,
				HealthCheckInterval:    "30s",
				FailoverTimeout:        "10s",
				RetryInterval:          "5s",
				MaxRetries:             3,
				ReaderToWriterFallback: true,
			},
		},
		Settings: &DatabaseSettings{
			LogQueries:     false,
			Timeout:        "30s",
			RetryAttempts:  3,
			RetryDelay:     "1s",
			HealthCheck:    true,
			HealthInterval: "30s",
			MetricsEnabled: true,
		},
	}
}

// Validate validates the database configuration
func (c *DatabaseConfig) Validate() error {
	if c.Mode == "" {
		return fmt.Errorf("database mode is required")
	}

	switch c.Mode {
	case DatabaseModeEmbedded:
		if c.Embedded == nil {
			return fmt.Errorf("embedded configuration is required for embedded mode")
		}
		return c.validateEmbedded()
	case DatabaseModeExternal:
		if c.External == nil {
			return fmt.Errorf("external configuration is required for external mode")
		}
		return c.validateExternal()
	default:
		return fmt.Errorf("unsupported database mode: %s", c.Mode)
	}
}

// validateEmbedded validates embedded database configuration
func (c *DatabaseConfig) validateEmbedded() error {
	if c.Embedded.Type == "" {
		return fmt.Errorf("embedded database type is required")
	}
	if c.Embedded.Path == "" {
		return fmt.Errorf("embedded database path is required")
	}

	if err := os.MkdirAll(getDir(c.Embedded.Path), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	if c.Embedded.BackupEnabled && c.Embedded.BackupInterval != "" {
		if _, err := time.ParseDuration(c.Embedded.BackupInterval); err != nil {
			return fmt.Errorf("invalid backup interval: %w", err)
		}
	}

	return nil
}

// validateExternal validates external database configuration
func (c *DatabaseConfig) validateExternal() error {
	if c.External.Type == "" {
		return fmt.Errorf("external database type is required")
	}

	if c.External.WriterEndpoint == "" {
		if c.External.Host == "" {
			return fmt.Errorf("writer endpoint or legacy host is required")
		}
		if c.External.Port == 0 {
			return fmt.Errorf("writer endpoint or legacy port is required")
		}
	} else {
		if err := c.validateEndpointFormat(c.External.WriterEndpoint); err != nil {
			return fmt.Errorf("invalid writer endpoint format: %w", err)
		}
	}

	if !c.External.ReaderUseWriter {
		if c.External.ReaderEndpoint == "" {
			return fmt.Errorf("reader endpoint is required when reader_use_writer is false")
		}
		if err := c.validateEndpointFormat(c.External.ReaderEndpoint); err != nil {
			return fmt.Errorf("invalid reader endpoint format: %w", err)
		}
	}

	if c.External.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.External.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if c.External.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.External.ConnMaxLifetime); err != nil {
			return fmt.Errorf("invalid connection max lifetime: %w", err)
		}
	}

	if c.External.Failover != nil && c.External.Failover.Enabled {
		if err := c.validateFailoverConfig(); err != nil {
			return fmt.Errorf("failover configuration validation failed: %w", err)
		}
	}

	return nil
}

// validateEndpointFormat validates the format of a database endpoint
func (c *DatabaseConfig) validateEndpointFormat(endpoint string) error {
	parts := strings.Split(endpoint, ":")
	if len(parts) != 2 {
		return fmt.Errorf("endpoint must be in format 'host:port'")
	}

	host := strings.TrimSpace(parts[0])
	port := strings.TrimSpace(parts[1])

	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}

	return nil
}

// validateFailoverConfig validates failover configuration
func (c *DatabaseConfig) validateFailoverConfig() error {
	failover := c.External.Failover

	if failover.HealthCheckInterval != "" {
		if _, err := time.ParseDuration(failover.HealthCheckInterval); err != nil {
			return fmt.Errorf("invalid health check interval: %w", err)
		}
	}
	if failover.FailoverTimeout != "" {
		if _, err := time.ParseDuration(failover.FailoverTimeout); err != nil {
			return fmt.Errorf("invalid failover timeout: %w", err)
		}
	}
	if failover.RetryInterval != "" {
		if _, err := time.ParseDuration(failover.RetryInterval); err != nil {
			return fmt.Errorf("invalid retry interval: %w", err)
		}
	}
	if failover.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	return nil
}

// getDir returns the directory portion of a file path
func getDir(filePath string) string {
	for i := len(filePath) - 1; i >= 0; i-- {
		if filePath[i] == '/' || filePath[i] == '\\' {
			return filePath[:i]
		}
	}
	return "."
}
