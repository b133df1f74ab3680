package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/antivirus"
	"github.com/marmos91/dittodrive/pkg/editors"
	"github.com/marmos91/dittodrive/pkg/repository"
	repobadger "github.com/marmos91/dittodrive/pkg/repository/badger"
	repomemory "github.com/marmos91/dittodrive/pkg/repository/memory"
	repomongo "github.com/marmos91/dittodrive/pkg/repository/mongo"
	reposql "github.com/marmos91/dittodrive/pkg/repository/sql"
	"github.com/marmos91/dittodrive/pkg/search"
	searchmemory "github.com/marmos91/dittodrive/pkg/search/memory"
	searchmongo "github.com/marmos91/dittodrive/pkg/search/mongo"
	"github.com/marmos91/dittodrive/pkg/storage"
	"github.com/marmos91/dittodrive/pkg/storage/b2"
	"github.com/marmos91/dittodrive/pkg/storage/composite"
	storagefs "github.com/marmos91/dittodrive/pkg/storage/fs"
	storagememory "github.com/marmos91/dittodrive/pkg/storage/memory"
	"github.com/marmos91/dittodrive/pkg/storage/minio"
	"github.com/marmos91/dittodrive/pkg/storage/s3"
	"github.com/mitchellh/mapstructure"
)

// decodeOptions decodes a type-specific option map into out and validates
// it with the struct tags of the backend's config type.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return err
	}
	if err := validate.Struct(out); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// CreateRepository creates the entity repository connector.
//
// Supported types:
//   - "memory": in-process maps, ephemeral
//   - "badger": BadgerDB, persistent
//   - "sql": SQLite through gorm
//   - "mongo": MongoDB
func CreateRepository(ctx context.Context, cfg *RepositoryConfig) (repository.Connector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return repomemory.New(), nil

	case "badger":
		var opts repobadger.Config
		if err := decodeOptions(cfg.Badger, &opts); err != nil {
			return nil, fmt.Errorf("invalid badger repository config: %w", err)
		}
		conn, err := repobadger.New(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger repository: %w", err)
		}
		logger.Info("Badger repository opened at %s", opts.DBPath)
		return conn, nil

	case "sql":
		var opts reposql.Config
		if err := decodeOptions(cfg.SQL, &opts); err != nil {
			return nil, fmt.Errorf("invalid sql repository config: %w", err)
		}
		conn, err := reposql.New(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open sql repository: %w", err)
		}
		return conn, nil

	case "mongo":
		var opts repomongo.Config
		if err := decodeOptions(cfg.Mongo, &opts); err != nil {
			return nil, fmt.Errorf("invalid mongo repository config: %w", err)
		}
		conn, err := repomongo.New(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to connect mongo repository: %w", err)
		}
		return conn, nil

	default:
		return nil, fmt.Errorf("unknown repository type: %q (supported: memory, badger, sql, mongo)", cfg.Type)
	}
}

// CreateStorage creates the blob storage from the configured backends.
//
// Every backend is wrapped with m (when non-nil) before being combined, so
// metrics are reported per backend. With strategy "composite" the backends
// are combined in the listed order.
func CreateStorage(ctx context.Context, cfg *StorageConfig, m storage.Metrics) (storage.Storage, error) {
	backends := make([]storage.Storage, 0, len(cfg.Backends))
	for i := range cfg.Backends {
		backend, err := createStorageBackend(ctx, &cfg.Backends[i])
		if err != nil {
			return nil, fmt.Errorf("storage.backends[%d] %q: %w", i, cfg.Backends[i].ID, err)
		}
		backends = append(backends, storage.Instrument(backend, m))
		logger.Info("Storage backend %q (%s) ready", cfg.Backends[i].ID, cfg.Backends[i].Type)
	}

	if cfg.Strategy == "single" {
		if len(backends) != 1 {
			return nil, fmt.Errorf("storage: strategy single requires exactly one backend, got %d", len(backends))
		}
		return backends[0], nil
	}

	return composite.New(backends...)
}

func createStorageBackend(ctx context.Context, cfg *StorageBackendConfig) (storage.Storage, error) {
	switch cfg.Type {
	case "memory":
		return storagememory.New(cfg.ID), nil

	case "filesystem":
		var opts storagefs.Config
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("invalid filesystem options: %w", err)
		}
		return storagefs.New(ctx, cfg.ID, opts)

	case "s3":
		var opts s3.Config
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("invalid s3 options: %w", err)
		}
		return s3.New(ctx, cfg.ID, opts)

	case "minio":
		var opts minio.Config
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("invalid minio options: %w", err)
		}
		return minio.New(ctx, cfg.ID, opts)

	case "b2":
		var opts b2.Config
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("invalid b2 options: %w", err)
		}
		return b2.New(ctx, cfg.ID, opts)

	default:
		return nil, fmt.Errorf("unknown storage type: %q (supported: memory, filesystem, s3, minio, b2)", cfg.Type)
	}
}

// CreateSearch creates the search index adapter.
func CreateSearch(ctx context.Context, cfg *SearchConfig) (search.Adapter, error) {
	switch cfg.Type {
	case "memory":
		return searchmemory.New(), nil

	case "mongo":
		var opts searchmongo.Config
		if err := decodeOptions(cfg.Mongo, &opts); err != nil {
			return nil, fmt.Errorf("invalid mongo search config: %w", err)
		}
		return searchmongo.New(ctx, opts)

	default:
		return nil, fmt.Errorf("unknown search type: %q (supported: memory, mongo)", cfg.Type)
	}
}

// CreateAntivirus creates the malware scanner.
func CreateAntivirus(cfg *AntivirusConfig) (antivirus.Scanner, error) {
	switch cfg.Type {
	case "none":
		return antivirus.None{}, nil

	case "http":
		var opts antivirus.HTTPConfig
		if err := decodeOptions(cfg.HTTP, &opts); err != nil {
			return nil, fmt.Errorf("invalid antivirus config: %w", err)
		}
		return antivirus.NewHTTPScanner(opts)

	default:
		return nil, fmt.Errorf("unknown antivirus type: %q (supported: none, http)", cfg.Type)
	}
}

// CreateEditors creates the editor status provider.
func CreateEditors(cfg *EditorsConfig) (editors.Provider, error) {
	switch cfg.Type {
	case "static":
		return editors.NewStatic(), nil

	case "http":
		var opts editors.HTTPConfig
		if err := decodeOptions(cfg.HTTP, &opts); err != nil {
			return nil, fmt.Errorf("invalid editors config: %w", err)
		}
		return editors.NewHTTPProvider(opts), nil

	default:
		return nil, fmt.Errorf("unknown editors type: %q (supported: static, http)", cfg.Type)
	}
}
