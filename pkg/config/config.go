package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittodrive/pkg/adapter/webdav"
	"github.com/marmos91/dittodrive/pkg/documents"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/spf13/viper"
)

// envPrefix is the prefix of every environment variable override.
const envPrefix = "DITTODRIVE"

// Config represents the complete DittoDrive configuration.
//
// This structure captures all configurable aspects of the DittoDrive server including:
//   - Logging configuration
//   - Server-wide settings and the metrics endpoint
//   - Entity repository selection (memory, badger, sql, mongo)
//   - Blob storage backends (single or composite)
//   - Search index selection
//   - Documents service tunables, user directory, antivirus and editors
//   - Trash retention
//   - Protocol adapter configurations
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTODRIVE_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend implementation defines its own configuration type. The Config
// struct carries a type selector plus type-specific option maps, and only the
// map matching the selected type is decoded by the factories.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Repository selects where drive items and versions are persisted
	Repository RepositoryConfig `mapstructure:"repository"`

	// Storage lists the blob storage backends
	Storage StorageConfig `mapstructure:"storage"`

	// Search selects the search index
	Search SearchConfig `mapstructure:"search"`

	// Documents contains documents service tunables
	Documents documents.Config `mapstructure:"documents"`

	// Directory declares company administrators and anonymous identities
	Directory documents.DirectoryConfig `mapstructure:"directory"`

	// Antivirus selects the malware scanner
	Antivirus AntivirusConfig `mapstructure:"antivirus"`

	// Editors configures the external editor status service
	Editors EditorsConfig `mapstructure:"editors"`

	// GC configures trash retention
	GC gc.Config `mapstructure:"gc"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled"`

	// Port is the metrics HTTP port
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// RepositoryConfig specifies the entity repository.
//
// The Type field determines which connector is used. Only the corresponding
// type-specific options are decoded.
type RepositoryConfig struct {
	// Type specifies which connector implementation to use
	// Valid values: memory, badger, sql, mongo
	Type string `mapstructure:"type" validate:"required,oneof=memory badger sql mongo"`

	// Badger contains BadgerDB options (db_path, in_memory, block_cache_size_mb, index_cache_size_mb)
	Badger map[string]any `mapstructure:"badger"`

	// SQL contains SQLite options (dsn, max_open_conns)
	SQL map[string]any `mapstructure:"sql"`

	// Mongo contains MongoDB options (uri, database, connect_timeout)
	Mongo map[string]any `mapstructure:"mongo"`
}

// StorageConfig lists blob storage backends.
//
// With strategy "single" exactly one backend is used. With "composite" every
// write goes to all backends and reads fall back in the listed order.
type StorageConfig struct {
	// Strategy is single or composite
	Strategy string `mapstructure:"strategy" validate:"required,oneof=single composite"`

	// Backends in read priority order
	Backends []StorageBackendConfig `mapstructure:"backends" validate:"required,min=1,dive"`

	// Files configures how blobs are laid out
	Files FilesConfig `mapstructure:"files"`
}

// StorageBackendConfig describes one storage backend.
type StorageBackendConfig struct {
	// ID names the backend in logs and metrics
	ID string `mapstructure:"id" validate:"required"`

	// Type selects the implementation
	// Valid values: memory, filesystem, s3, minio, b2
	Type string `mapstructure:"type" validate:"required,oneof=memory filesystem s3 minio b2"`

	// Options are decoded into the backend's own config type
	Options map[string]any `mapstructure:"options"`
}

// FilesConfig configures the blob layout.
type FilesConfig struct {
	// Prefix is the first path segment of every blob
	Prefix string `mapstructure:"prefix"`

	// ChunkSize is the maximum size of one blob in bytes
	ChunkSize int64 `mapstructure:"chunk_size" validate:"omitempty,min=1024"`
}

// SearchConfig selects the search index.
type SearchConfig struct {
	// Type specifies the index implementation
	// Valid values: memory, mongo
	Type string `mapstructure:"type" validate:"required,oneof=memory mongo"`

	// Mongo contains MongoDB options (uri, database, connect_timeout)
	Mongo map[string]any `mapstructure:"mongo"`
}

// AntivirusConfig selects the malware scanner.
type AntivirusConfig struct {
	// Type specifies the scanner
	// Valid values: none, http
	Type string `mapstructure:"type" validate:"required,oneof=none http"`

	// HTTP contains scanner service options (url, max_file_size, timeout, retry_max)
	HTTP map[string]any `mapstructure:"http"`
}

// EditorsConfig configures the editor status service.
type EditorsConfig struct {
	// Type specifies the provider
	// Valid values: static, http
	Type string `mapstructure:"type" validate:"required,oneof=static http"`

	// HTTP contains editor service options (url, applications, timeout, retry_max)
	HTTP map[string]any `mapstructure:"http"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// WebDAV contains WebDAV protocol configuration.
	// Uses the webdav.Config type directly to avoid duplication.
	WebDAV webdav.Config `mapstructure:"webdav"`
}

// secretKeys are bound to environment variables explicitly so they can be
// supplied without appearing in the config file.
var secretKeys = []string{
	"adapters.webdav.jwt_secret",
	"documents.download_token_secret",
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTODRIVE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTODRIVE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		_ = v.BindEnv(key)
	}

	// WebDAV is the only adapter, so it stays on unless disabled explicitly.
	v.SetDefault("adapters.webdav.enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittodrive/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Missing config file is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittodrive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittodrive")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
