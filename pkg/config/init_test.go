package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func useTempHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpDir
}

func TestInitConfig_Success(t *testing.T) {
	tmpDir := useTempHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if want := filepath.Join(tmpDir, ".config", "dittodrive", "config.yaml"); configPath != want {
		t.Errorf("Expected config at %s, got %s", want, configPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# DittoDrive Configuration File",
		"logging:",
		"repository:",
		"storage:",
		"search:",
		"documents:",
		"gc:",
		"adapters:",
	}
	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected config file mode 0600, got %v", info.Mode().Perm())
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	useTempHome(t)

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfigToPath_ForceOverwrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	first, _ := os.ReadFile(configPath)

	if err := InitConfigToPath(configPath, true); err != nil {
		t.Fatalf("Force InitConfigToPath failed: %v", err)
	}
	second, _ := os.ReadFile(configPath)

	if string(first) == string(second) {
		t.Error("Expected regenerated config to carry fresh secrets")
	}
}

func TestGenerateYAMLWithComments_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	out, err := generateYAMLWithComments(cfg)
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	for _, want := range []string{
		"# Blob storage",
		"shutdown_timeout: 30s",
		"level: INFO",
		"port: 8090",
		"strategy: single",
		"path: /tmp/dittodrive-content",
		"retention: 720h0m0s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Generated YAML missing %q", want)
		}
	}

	// Sections follow struct order
	if strings.Index(out, "logging:") > strings.Index(out, "adapters:") {
		t.Error("Expected logging section before adapters section")
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("Failed to generate config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected INFO log level in generated config, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.WebDAV.Port != 8090 {
		t.Errorf("Expected port 8090 in generated config, got %d", cfg.Adapters.WebDAV.Port)
	}
	if len(cfg.Adapters.WebDAV.JWTSecret) != 64 {
		t.Errorf("Expected a generated 32-byte hex secret, got %q", cfg.Adapters.WebDAV.JWTSecret)
	}
	if cfg.Documents.DownloadTokenSecret == "" {
		t.Error("Expected a generated download token secret")
	}
	if !cfg.GC.Enabled {
		t.Error("Expected trash retention enabled in generated config")
	}
	if cfg.Storage.Backends[0].Options["path"] != "/tmp/dittodrive-content" {
		t.Errorf("Unexpected storage options %v", cfg.Storage.Backends[0].Options)
	}
}
