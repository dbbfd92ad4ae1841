package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starrealm/hoststar/pkg/logging"
)

// ServiceConfig is the single-process core's configuration surface,
// collapsing the three microservice config types the teacher split
// across auth-service/game-service/session-service into one structure
// (spec.md §2's "single long-running process").
type ServiceConfig struct {
	Server    *ServerConfig    `yaml:"server"`
	Database  *DatabaseConfig  `yaml:"database"`
	Logging   logging.Config   `yaml:"logging"`
	Metrics   *MetricsConfig   `yaml:"metrics"`
	Health    *HealthConfig    `yaml:"health"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Runner    *RunnerConfig    `yaml:"runner"`
	Auth      *AuthTokenConfig `yaml:"auth"`
}

// SchedulerConfig configures the turn-scheduling clock (spec.md §2, §4.2).
type SchedulerConfig struct {
	// TimeScale divides unix time to produce scaled minutes; HOST.TIMESCALE
	// in spec.md's glossary. 60 (the default) means one unit per minute;
	// tests shrink this to compress days into milliseconds.
	TimeScale int64 `yaml:"time_scale"`
	// TickInterval is parsed by TickDuration. The scheduler worker does
	// not read it: it sleeps until its earliest future event or the
	// next command it receives.
	TickInterval string `yaml:"tick_interval"`
}

// RunnerConfig locates the subprocess-runner helper binary and the
// external turn-checker binary it invokes (spec.md §4.6 step 8, §4.11).
type RunnerConfig struct {
	HelperPath  string `yaml:"helper_path"`
	CheckerPath string `yaml:"checker_path"`
}

// AuthTokenConfig configures JWT session token issuance (spec.md §4.9).
type AuthTokenConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Lifetime string `yaml:"lifetime"`
}

// NewServiceConfig returns a ServiceConfig populated with the same kind
// of development-friendly defaults the teacher's New*ServiceConfig
// constructors use.
func NewServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Server: &ServerConfig{
			Port:           4000,
			Host:           "0.0.0.0",
			Timeout:        "30s",
			MaxConnections: 256,
		},
		Database: NewDatabaseConfig(),
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: &MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Health: &HealthConfig{
			Enabled: true,
			Path:    "/healthz",
		},
		Scheduler: &SchedulerConfig{
			TimeScale:    60,
			TickInterval: "1m",
		},
		Runner: &RunnerConfig{
			HelperPath:  "./bin/runner",
			CheckerPath: "./bin/turncheck",
		},
		Auth: &AuthTokenConfig{
			Issuer:   "hoststar",
			Lifetime: "24h",
		},
	}
}

// LoadServiceConfig loads a ServiceConfig from path, expanding ${VAR}
// environment references, falling back to defaults when configPath is
// empty and filling any section left nil by the file with its default.
func LoadServiceConfig(configPath string) (*ServiceConfig, error) {
	cfg := NewServiceConfig()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Server == nil {
		cfg.Server = NewServiceConfig().Server
	}
	if cfg.Database == nil {
		cfg.Database = NewDatabaseConfig()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewServiceConfig().Metrics
	}
	if cfg.Health == nil {
		cfg.Health = NewServiceConfig().Health
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewServiceConfig().Scheduler
	}
	if cfg.Runner == nil {
		cfg.Runner = NewServiceConfig().Runner
	}
	if cfg.Auth == nil {
		cfg.Auth = NewServiceConfig().Auth
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the service configuration.
func (c *ServiceConfig) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database configuration validation failed: %w", err)
	}
	if c.Auth != nil && c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	return nil
}

// LifetimeDuration parses Lifetime, falling back to 24h on a malformed value.
func (c *AuthTokenConfig) LifetimeDuration() time.Duration {
	return ParseDuration(c.Lifetime, 24*time.Hour)
}

// TickDuration parses TickInterval, falling back to one minute.
func (c *SchedulerConfig) TickDuration() time.Duration {
	return ParseDuration(c.TickInterval, time.Minute)
}
