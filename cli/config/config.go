// Package config provides configuration management for the eventide CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the eventide CLI configuration
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// Database connection settings
	Database DatabaseConfig `yaml:"database"`

	// Consumer polling settings
	Consumer ConsumerConfig `yaml:"consumer"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig contains Message DB connection settings
type DatabaseConfig struct {
	// Driver is the database/sql driver (pgx, postgres) or memory
	Driver string `yaml:"driver"`

	// URL is a full connection string. When set it overrides the
	// individual connection fields.
	URL string `yaml:"url,omitempty"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode,omitempty"`

	// Schema holding the Message DB functions
	Schema string `yaml:"schema"`

	// Pool settings
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime"`
}

// ConsumerConfig contains consumer polling settings
type ConsumerConfig struct {
	// PollInterval is the pause between non-empty batches
	PollInterval time.Duration `yaml:"poll_interval"`

	// EmptyBackoff is the pause after an empty batch or a retryable error
	EmptyBackoff time.Duration `yaml:"empty_backoff"`

	// BatchSize is the number of messages fetched per poll, -1 for unlimited
	BatchSize int64 `yaml:"batch_size"`

	// PositionUpdateInterval is how many messages are handled between
	// position writes
	PositionUpdateInterval int64 `yaml:"position_update_interval"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`

	// Format is text or json
	Format string `yaml:"format"`
}

// Supported drivers
const (
	DriverPgx    = "pgx"
	DriverPq     = "postgres"
	DriverMemory = "memory"
)

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Database: DatabaseConfig{
			Driver:             DriverPgx,
			Host:               "localhost",
			Port:               5432,
			User:               "message_store",
			Name:               "message_store",
			Schema:             "message_store",
			MaxConnections:     5,
			MaxIdleConnections: 1,
			ConnMaxLifetime:    30 * time.Minute,
		},
		Consumer: ConsumerConfig{
			PollInterval:           100 * time.Millisecond,
			EmptyBackoff:           time.Second,
			BatchSize:              1000,
			PositionUpdateInterval: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigFileName is the default config file name
const ConfigFileName = "eventide.yaml"

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path.
// ${VAR} references are expanded from the environment before parsing, and
// fields absent from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse parses YAML configuration data on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	path := filepath.Join(dir, ConfigFileName)
	return c.SaveFile(path)
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached root, config not found
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// DSN returns the connection string for the database. URL wins when set;
// otherwise a libpq keyword/value string is assembled from the fields.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}

	pairs := []struct{ key, value string }{
		{"host", d.Host},
		{"port", fmt.Sprint(d.Port)},
		{"user", d.User},
		{"password", d.Password},
		{"dbname", d.Name},
	}
	if d.SSLMode != "" {
		pairs = append(pairs, struct{ key, value string }{"sslmode", d.SSLMode})
	}

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.key+"="+quoteDSNValue(p.value))
	}
	return strings.Join(parts, " ")
}

// quoteDSNValue quotes empty values and values containing spaces or quotes.
func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Validate validates the configuration
func (c *Config) Validate() []string {
	var errors []string

	switch c.Database.Driver {
	case "":
		errors = append(errors, "database.driver is required")
	case DriverPgx, DriverPq:
		if c.Database.URL == "" && c.Database.Host == "" {
			errors = append(errors, "database.url or database.host is required")
		}
		if c.Database.URL == "" && (c.Database.Port <= 0 || c.Database.Port > 65535) {
			errors = append(errors, "database.port must be between 1 and 65535")
		}
	case DriverMemory:
	default:
		errors = append(errors, "database.driver must be 'pgx', 'postgres' or 'memory'")
	}

	if c.Database.Schema == "" {
		errors = append(errors, "database.schema is required")
	}

	if c.Database.MaxConnections < 0 {
		errors = append(errors, "database.max_connections must not be negative")
	}

	if c.Consumer.BatchSize == 0 || c.Consumer.BatchSize < -1 {
		errors = append(errors, "consumer.batch_size must be positive or -1")
	}

	if c.Consumer.PollInterval < 0 {
		errors = append(errors, "consumer.poll_interval must not be negative")
	}

	if c.Consumer.EmptyBackoff < 0 {
		errors = append(errors, "consumer.empty_backoff must not be negative")
	}

	if c.Consumer.PositionUpdateInterval < 0 {
		errors = append(errors, "consumer.position_update_interval must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, "logging.level must be one of debug, info, warn, error")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errors = append(errors, "logging.format must be 'text' or 'json'")
	}

	return errors
}

// GenerateYAML generates YAML content with comments
func GenerateYAML(cfg *Config) string {
	return `# Eventide Configuration File
# Connection and consumer settings for the eventide CLI

version: "1"

# Message DB connection
database:
  # Driver: pgx, postgres (lib/pq) or memory
  driver: "` + cfg.Database.Driver + `"

  # Connection URL; overrides the fields below when set
  url: "${MESSAGE_STORE_URL}"

  host: "` + cfg.Database.Host + `"
  port: ` + fmt.Sprint(cfg.Database.Port) + `
  user: "` + cfg.Database.User + `"
  password: "${MESSAGE_STORE_PASSWORD}"
  name: "` + cfg.Database.Name + `"

  # Schema holding the Message DB functions
  schema: "` + cfg.Database.Schema + `"

  max_connections: ` + fmt.Sprint(cfg.Database.MaxConnections) + `
  max_idle_connections: ` + fmt.Sprint(cfg.Database.MaxIdleConnections) + `
  conn_max_lifetime: "` + cfg.Database.ConnMaxLifetime.String() + `"

# Consumer polling
consumer:
  poll_interval: "` + cfg.Consumer.PollInterval.String() + `"
  empty_backoff: "` + cfg.Consumer.EmptyBackoff.String() + `"
  batch_size: ` + fmt.Sprint(cfg.Consumer.BatchSize) + `
  position_update_interval: ` + fmt.Sprint(cfg.Consumer.PositionUpdateInterval) + `

# Logging: level is debug, info, warn or error; format is text or json
logging:
  level: "` + cfg.Logging.Level + `"
  format: "` + cfg.Logging.Format + `"
`
}
