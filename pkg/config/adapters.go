package config

import (
	"fmt"

	"github.com/marmos91/dittodrive/pkg/adapter"
	"github.com/marmos91/dittodrive/pkg/adapter/webdav"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// Parameters:
//   - cfg: The complete DittoDrive configuration
//   - webdavMetrics: Optional WebDAV metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: Any error during adapter creation
func CreateAdapters(cfg *Config, webdavMetrics webdav.Metrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.WebDAV.Enabled {
		if cfg.Adapters.WebDAV.JWTSecret == "" {
			return nil, fmt.Errorf("adapters.webdav: jwt_secret is required")
		}
		adapters = append(adapters, webdav.New(cfg.Adapters.WebDAV, webdavMetrics))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
