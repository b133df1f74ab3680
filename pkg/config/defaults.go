package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittodrive/pkg/adapter/webdav"
	"github.com/marmos91/dittodrive/pkg/documents"
	"github.com/marmos91/dittodrive/pkg/gc"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by backend implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyRepositoryDefaults(&cfg.Repository)
	applyStorageDefaults(&cfg.Storage)
	applySearchDefaults(&cfg.Search)
	applyDocumentsDefaults(&cfg.Documents)
	applyDirectoryDefaults(&cfg.Directory)
	applyAntivirusDefaults(&cfg.Antivirus)
	applyEditorsDefaults(&cfg.Editors)
	applyGCDefaults(&cfg.GC)
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyRepositoryDefaults sets repository defaults. Options for every type
// are filled so a generated config file documents them.
func applyRepositoryDefaults(cfg *RepositoryConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.SQL == nil {
		cfg.SQL = make(map[string]any)
	}
	if cfg.Mongo == nil {
		cfg.Mongo = make(map[string]any)
	}

	setDefault(cfg.Badger, "db_path", "/tmp/dittodrive-repository")
	setDefault(cfg.SQL, "dsn", "/tmp/dittodrive.db")
	setDefault(cfg.Mongo, "uri", "mongodb://localhost:27017")
	setDefault(cfg.Mongo, "database", "dittodrive")
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Strategy == "" {
		cfg.Strategy = "single"
	}

	if len(cfg.Backends) == 0 {
		cfg.Backends = []StorageBackendConfig{
			{
				ID:   "local",
				Type: "filesystem",
				Options: map[string]any{
					"path": "/tmp/dittodrive-content",
				},
			},
		}
	}

	for i := range cfg.Backends {
		backend := &cfg.Backends[i]
		if backend.Options == nil {
			backend.Options = make(map[string]any)
		}
		if backend.ID == "" {
			backend.ID = backend.Type
		}
	}

	if cfg.Files.Prefix == "" {
		cfg.Files.Prefix = "files"
	}
	if cfg.Files.ChunkSize == 0 {
		cfg.Files.ChunkSize = 5 << 20
	}
}

func applySearchDefaults(cfg *SearchConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Mongo == nil {
		cfg.Mongo = make(map[string]any)
	}
}

// applyDocumentsDefaults reuses the service's own defaults so the generated
// config shows effective values. DownloadTokenSecret is left alone.
func applyDocumentsDefaults(cfg *documents.Config) {
	cfg.ApplyDefaults()
}

func applyDirectoryDefaults(cfg *documents.DirectoryConfig) {
	if cfg.Companies == nil {
		cfg.Companies = make(map[string][]string)
	}
	if len(cfg.AnonymousPrefixes) == 0 {
		cfg.AnonymousPrefixes = []string{"anonymous", "service:"}
	}
}

func applyAntivirusDefaults(cfg *AntivirusConfig) {
	if cfg.Type == "" {
		cfg.Type = "none"
	}
	if cfg.HTTP == nil {
		cfg.HTTP = make(map[string]any)
	}
}

func applyEditorsDefaults(cfg *EditorsConfig) {
	if cfg.Type == "" {
		cfg.Type = "static"
	}
	if cfg.HTTP == nil {
		cfg.HTTP = make(map[string]any)
	}
}

func applyGCDefaults(cfg *gc.Config) {
	cfg.ApplyDefaults()
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	applyWebDAVDefaults(&cfg.WebDAV)
}

// applyWebDAVDefaults sets WebDAV adapter defaults.
func applyWebDAVDefaults(cfg *webdav.Config) {
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/dav"
	}
	if cfg.RateLimit.RequestsPerSecond == 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
		cfg.RateLimit.Burst = 100
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// Secrets are left empty. This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		GC: gc.Config{
			Enabled: true,
		},
		Adapters: AdaptersConfig{
			WebDAV: webdav.Config{
				Enabled: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
