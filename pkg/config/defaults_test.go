package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "debug", Format: "json"},
		Server:  ServerConfig{ShutdownTimeout: time.Minute},
		Storage: StorageConfig{
			Strategy: "composite",
			Backends: []StorageBackendConfig{{Type: "memory"}},
		},
	}
	cfg.Adapters.WebDAV.Port = 9000
	cfg.Documents.ZipConcurrency = 8

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected explicit format preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != time.Minute {
		t.Errorf("Expected explicit shutdown timeout preserved, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Storage.Backends[0].ID != "memory" {
		t.Errorf("Expected backend id to default to its type, got %q", cfg.Storage.Backends[0].ID)
	}
	if cfg.Storage.Backends[0].Options == nil {
		t.Error("Expected backend options map to be initialized")
	}
	if cfg.Documents.ZipConcurrency != 8 {
		t.Errorf("Expected explicit zip concurrency preserved, got %d", cfg.Documents.ZipConcurrency)
	}
	if cfg.Adapters.WebDAV.Enabled {
		t.Error("Expected ApplyDefaults to leave the enabled flag untouched")
	}
	if cfg.Adapters.WebDAV.Port != 9000 {
		t.Errorf("Expected explicit WebDAV port preserved, got %d", cfg.Adapters.WebDAV.Port)
	}
}

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Adapters.WebDAV.Port != 8090 || cfg.Adapters.WebDAV.Prefix != "/dav" {
		t.Errorf("Unexpected WebDAV defaults: %+v", cfg.Adapters.WebDAV)
	}
	if cfg.Adapters.WebDAV.RateLimit.RequestsPerSecond != 50 || cfg.Adapters.WebDAV.RateLimit.Burst != 100 {
		t.Errorf("Unexpected rate limit defaults: %+v", cfg.Adapters.WebDAV.RateLimit)
	}
	if cfg.Repository.Badger["db_path"] != "/tmp/dittodrive-repository" {
		t.Errorf("Expected badger db_path default, got %v", cfg.Repository.Badger["db_path"])
	}
	if cfg.Antivirus.Type != "none" || cfg.Editors.Type != "static" || cfg.Search.Type != "memory" {
		t.Errorf("Unexpected service defaults: antivirus=%q editors=%q search=%q",
			cfg.Antivirus.Type, cfg.Editors.Type, cfg.Search.Type)
	}
	if cfg.Server.Metrics.Port != 9090 {
		t.Errorf("Expected metrics port 9090, got %d", cfg.Server.Metrics.Port)
	}
	if len(cfg.Directory.AnonymousPrefixes) != 2 {
		t.Errorf("Expected default anonymous prefixes, got %v", cfg.Directory.AnonymousPrefixes)
	}
}
