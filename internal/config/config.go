package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devrev/pairdb/index-node/internal/model"
	"gopkg.in/yaml.v3"
)

// IndexConfig names the index and the schema it is created with
type IndexConfig struct {
	UID    string                  `yaml:"uid"`
	Schema []model.SchemaAttribute `yaml:"schema"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	DataDir             string  `yaml:"data_dir"`
	InMemory            bool    `yaml:"in_memory"`
	CheckpointThreshold int64   `yaml:"checkpoint_threshold"`
	MaxDiskUsage        float64 `yaml:"max_disk_usage"`
}

// CommitLogConfig holds commit log configuration
type CommitLogConfig struct {
	SyncWrites bool `yaml:"sync_writes"`
}

// UpdatesConfig holds update loop configuration
type UpdatesConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	CallbackWorkers   int           `yaml:"callback_workers"`
	CallbackQueueSize int           `yaml:"callback_queue_size"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	CheckInterval  time.Duration `yaml:"check_interval"`
	BacklogWarning int           `yaml:"backlog_warning"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for the index node
type Config struct {
	Index     IndexConfig     `yaml:"index"`
	Storage   StorageConfig   `yaml:"storage"`
	CommitLog CommitLogConfig `yaml:"commit_log"`
	Updates   UpdatesConfig   `yaml:"updates"`
	Health    HealthConfig    `yaml:"health"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" && !cfg.Storage.InMemory {
		cfg.Storage.DataDir = "/var/lib/pairdb/index"
	}
	if cfg.Storage.CheckpointThreshold == 0 {
		cfg.Storage.CheckpointThreshold = 64 << 20 // 64MB
	}
	if cfg.Storage.MaxDiskUsage == 0 {
		cfg.Storage.MaxDiskUsage = 0.95
	}

	if cfg.Updates.PollInterval == 0 {
		cfg.Updates.PollInterval = time.Second
	}
	if cfg.Updates.CallbackWorkers == 0 {
		cfg.Updates.CallbackWorkers = 1
	}
	if cfg.Updates.CallbackQueueSize == 0 {
		cfg.Updates.CallbackQueueSize = 256
	}

	if cfg.Health.CheckInterval == 0 {
		cfg.Health.CheckInterval = 10 * time.Second
	}
	if cfg.Health.BacklogWarning == 0 {
		cfg.Health.BacklogWarning = 1000
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9091
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Index.UID == "" {
		return fmt.Errorf("index.uid is required")
	}
	if len(c.Index.Schema) > 0 {
		if _, err := c.Schema(); err != nil {
			return fmt.Errorf("index.schema: %w", err)
		}
	}
	if c.Storage.MaxDiskUsage < 0 || c.Storage.MaxDiskUsage > 1 {
		return fmt.Errorf("storage.max_disk_usage must be between 0 and 1")
	}
	if c.Storage.CheckpointThreshold < 0 {
		return fmt.Errorf("storage.checkpoint_threshold must not be negative")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	return nil
}

// Schema returns the configured schema, or nil when none is set
func (c *Config) Schema() (*model.Schema, error) {
	if len(c.Index.Schema) == 0 {
		return nil, nil
	}
	return model.NewSchema(c.Index.Schema)
}

// EnvDir returns the directory of the kv environment, empty when in memory
func (c *Config) EnvDir() string {
	if c.Storage.InMemory {
		return ""
	}
	return filepath.Join(c.Storage.DataDir, c.Index.UID)
}
