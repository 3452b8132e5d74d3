// Package config provides configuration management for cloudspend
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Import    ImportConfig    `yaml:"import"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Auth      AuthConfig      `yaml:"auth"`
	Reporter  ReporterConfig  `yaml:"reporter"`
}

// DatabaseConfig points at the Postgres database
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the group result cache. An empty Addr disables it.
type RedisConfig struct {
	Addr string        `yaml:"addr"`
	TTL  time.Duration `yaml:"ttl"`
}

// ImportConfig tunes the import dispatcher
type ImportConfig struct {
	Workers         int           `yaml:"workers"`
	AdapterTimeout  time.Duration `yaml:"adapter_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port string `yaml:"port"`
}

// TelemetryConfig selects the trace exporter
type TelemetryConfig struct {
	Exporter string `yaml:"exporter"` // stdout, otlp or none
	Endpoint string `yaml:"endpoint"`
}

// AuthConfig holds dashboard users as Argon2id PHC hashes keyed by username
type AuthConfig struct {
	Users map[string]string `yaml:"users"`
}

// ReporterConfig configures report generation
type ReporterConfig struct {
	Format    string `yaml:"format"` // table, csv, json, html
	OutputDir string `yaml:"output_dir"`
}

// only the braced form is expanded; Argon2id hashes contain bare $ signs
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(envRef.FindSubmatch(m)[1])))
	})
}

// Load loads configuration from a YAML file. Values from a .env file in the
// working directory are loaded into the environment first, so they take part
// in ${VAR} expansion. An empty path yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		data = expandEnv(data)

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Environment overrides
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}

	// Set defaults
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = 60 * time.Second
	}
	if cfg.Import.Workers == 0 {
		cfg.Import.Workers = 4
	}
	if cfg.Import.AdapterTimeout == 0 {
		cfg.Import.AdapterTimeout = 10 * time.Minute
	}
	if cfg.Import.MaxAttempts == 0 {
		cfg.Import.MaxAttempts = 3
	}
	if cfg.Import.InitialBackoff == 0 {
		cfg.Import.InitialBackoff = 2 * time.Second
	}
	if cfg.Import.BreakerFailures == 0 {
		cfg.Import.BreakerFailures = 3
	}
	if cfg.Import.BreakerCooldown == 0 {
		cfg.Import.BreakerCooldown = 5 * time.Minute
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = "stdout"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Reporter.Format == "" {
		cfg.Reporter.Format = "table"
	}
	if cfg.Reporter.OutputDir == "" {
		cfg.Reporter.OutputDir = "./reports"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	if c.Import.Workers < 0 {
		return fmt.Errorf("import.workers must be positive, got %d", c.Import.Workers)
	}
	if c.Import.MaxAttempts < 0 {
		return fmt.Errorf("import.max_attempts must be positive, got %d", c.Import.MaxAttempts)
	}
	switch c.Telemetry.Exporter {
	case "stdout", "otlp", "none":
	default:
		return fmt.Errorf("telemetry.exporter must be stdout, otlp or none, got %q", c.Telemetry.Exporter)
	}
	return nil
}
