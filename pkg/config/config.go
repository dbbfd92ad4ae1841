package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig represents common server configuration
type ServerConfig struct {
	Port           int    `yaml:"port"`
	GRPCPort       int    `yaml:"grpc_port"`
	Host           string `yaml:"host"`
	Timeout        string `yaml:"timeout"`
	MaxConnections int    `yaml:"max_connections"`
}

// LegacyDatabaseConfig represents basic database configuration (legacy compatibility)
// For full database features, use DatabaseConfig from user_config.go
type LegacyDatabaseConfig struct {
	Type       string                 `yaml:"type"`
	Connection map[string]interface{} `yaml:"connection"`
	Pool       *PoolConfig            `yaml:"pool,omitempty"`
}

// PoolConfig represents database pool configuration
type PoolConfig struct {
	MaxConnections        int    `yaml:"max_connections"`
	MaxIdleConnections    int    `yaml:"max_idle_connections"`
	ConnectionMaxLifetime string `yaml:"connection_max_lifetime"`
}

// MetricsConfig represents Prometheus metrics exporter configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// HealthConfig represents health check endpoint configuration
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads and parses a YAML config file into a generic map, expanding
// ${VAR} environment references first.
func Load(configPath string) (map[string]interface{}, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var config map[string]interface{}
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// ParseDuration parses duration string with fallback
func ParseDuration(durationStr string, fallback time.Duration) time.Duration {
	if duration, err := time.ParseDuration(durationStr); err == nil {
		return duration
	}
	return fallback
}
