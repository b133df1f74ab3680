package config

import (
	"github.com/marmos91/dittodrive/pkg/adapter/webdav"
	"github.com/marmos91/dittodrive/pkg/documents"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/storage"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Storage is reported per storage backend (nil if disabled)
	Storage storage.Metrics

	// Documents is the documents service collector (nil if disabled)
	Documents documents.Metrics

	// WebDAV is the WebDAV adapter collector (nil if disabled)
	WebDAV webdav.Metrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled every field is nil and components skip recording.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port: cfg.Server.Metrics.Port,
		}),
		Storage:   metrics.NewStorageMetrics(),
		Documents: metrics.NewDocumentsMetrics(),
		WebDAV:    metrics.NewWebDAVMetrics(),
	}
}
