package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Storage.Strategy == "single" && len(cfg.Storage.Backends) != 1 {
		return fmt.Errorf("storage: strategy single requires exactly one backend, got %d", len(cfg.Storage.Backends))
	}

	ids := make(map[string]bool)
	for i, backend := range cfg.Storage.Backends {
		if ids[backend.ID] {
			return fmt.Errorf("storage.backends[%d]: duplicate backend id %q", i, backend.ID)
		}
		ids[backend.ID] = true
	}

	if !cfg.Adapters.WebDAV.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == cfg.Adapters.WebDAV.Port {
		return fmt.Errorf("server.metrics.port: %d is already used by the webdav adapter", cfg.Server.Metrics.Port)
	}

	if cfg.Documents.AVEnabled && cfg.Antivirus.Type == "none" {
		return fmt.Errorf("documents.av_enabled requires an antivirus type other than none")
	}

	if cfg.Documents.QuotaEnabled && cfg.Documents.DefaultQuota <= 0 {
		return fmt.Errorf("documents.quota_enabled requires a positive default_quota")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
