// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Naming   NamingConfig   `mapstructure:"naming"`
	Watch    WatchConfig    `mapstructure:"watch"`
	History  HistoryConfig  `mapstructure:"history"`
	Export   ExportConfig   `mapstructure:"export"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the status HTTP server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // s3, azure, local
	LocalPath string      `mapstructure:"local_path"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
}

// PipelineConfig holds the conversion and upload policy knobs.
type PipelineConfig struct {
	Workers         int           `mapstructure:"workers"`
	UploadRetries   int           `mapstructure:"upload_retries"`
	UploadBackoff   time.Duration `mapstructure:"upload_backoff"`
	UploadTimeout   time.Duration `mapstructure:"upload_timeout"`
	ResourceRetries int           `mapstructure:"resource_retries"`
	ResourceBackoff time.Duration `mapstructure:"resource_backoff"`
	TileSize        int           `mapstructure:"tile_size"`
	MinOverviewSize int           `mapstructure:"min_overview_size"`
	Workspace       string        `mapstructure:"workspace"`
}

// NamingConfig holds destination key derivation configuration.
type NamingConfig struct {
	RootPrefix string `mapstructure:"root_prefix"`
	Event      string `mapstructure:"event"`
}

// WatchConfig holds inbox watch mode configuration.
type WatchConfig struct {
	Inbox    []string      `mapstructure:"inbox"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// HistoryConfig holds the sqlite run history configuration.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ExportConfig holds the run export configuration.
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.enabled", true)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./data")

	// Pipeline defaults
	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.upload_retries", 3)
	viper.SetDefault("pipeline.upload_backoff", 500*time.Millisecond)
	viper.SetDefault("pipeline.upload_timeout", 60*time.Second)
	viper.SetDefault("pipeline.resource_retries", 2)
	viper.SetDefault("pipeline.resource_backoff", time.Second)
	viper.SetDefault("pipeline.tile_size", 512)
	viper.SetDefault("pipeline.min_overview_size", 512)
	viper.SetDefault("pipeline.workspace", "")

	// Naming defaults
	viper.SetDefault("naming.root_prefix", "drcs_activations_new")

	// Watch defaults
	viper.SetDefault("watch.inbox", []string{})
	viper.SetDefault("watch.debounce", 2*time.Second)

	// History defaults
	viper.SetDefault("history.enabled", true)
	viper.SetDefault("history.path", "./cogforge.db")

	// Export defaults
	viper.SetDefault("export.dir", "./exports")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.namespace", "cogforge")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("COGFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/cogforge")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("local storage path is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("S3 region is required")
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return fmt.Errorf("azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return fmt.Errorf("azure account name or connection string is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline workers must be at least 1")
	}
	if c.Pipeline.UploadRetries < 0 {
		return fmt.Errorf("upload retries cannot be negative")
	}
	switch c.Pipeline.TileSize {
	case 256, 512, 1024:
	default:
		return fmt.Errorf("tile size %d is not one of 256/512/1024", c.Pipeline.TileSize)
	}

	if c.Naming.RootPrefix == "" {
		return fmt.Errorf("naming root prefix is required")
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history path is required when history is enabled")
	}

	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
