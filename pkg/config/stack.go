package config

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/antivirus"
	"github.com/marmos91/dittodrive/pkg/documents"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/files"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/marmos91/dittodrive/pkg/notify"
	"github.com/marmos91/dittodrive/pkg/repository"
	"github.com/marmos91/dittodrive/pkg/search"
	"github.com/marmos91/dittodrive/pkg/storage"
)

// Stack is the assembled documents backend: repository, outbox, search
// index, blob storage and the services built on them.
type Stack struct {
	Connector repository.Connector
	Outbox    *repository.Outbox
	Index     search.Adapter
	Storage   storage.Storage
	Files     *files.Service
	Directory *documents.StaticDirectory
	Publisher *notify.Publisher
	Documents *documents.Service
	Collector *gc.Collector

	scanner antivirus.Scanner
	cancel  context.CancelFunc
}

// flushTimeout bounds how long Close waits for queued index events.
const flushTimeout = 10 * time.Second

// InitializeStack creates a fully wired Stack from the provided configuration.
//
// This function orchestrates the complete initialization process:
//  1. Opens the repository connector and creates the event outbox
//  2. Creates the search index and subscribes the indexer to the outbox
//  3. Creates the storage backends and the files service on top
//  4. Creates antivirus, editors, notifier and the documents service
//  5. Creates the trash retention collector
//
// Nothing is started; call Start. On error every resource opened so far is
// released.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	stack, err := config.InitializeStack(ctx, cfg, config.InitializeMetrics(cfg))
//	if err != nil {
//	    log.Fatalf("Failed to initialize: %v", err)
//	}
//	defer stack.Close(ctx)
func InitializeStack(ctx context.Context, cfg *Config, m *MetricsResult) (_ *Stack, err error) {
	if m == nil {
		m = &MetricsResult{}
	}

	s := &Stack{}
	defer func() {
		if err != nil {
			_ = s.Close(context.Background())
		}
	}()

	logger.Debug("Initializing %s repository", cfg.Repository.Type)
	if s.Connector, err = CreateRepository(ctx, &cfg.Repository); err != nil {
		return nil, err
	}
	s.Outbox = repository.NewOutbox(repository.OutboxConfig{})

	if s.Index, err = CreateSearch(ctx, &cfg.Search); err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	search.NewIndexer(s.Index, map[string]search.Mapper{
		documents.ItemsTable: search.DriveItemMapper,
	}).Attach(s.Outbox)

	if s.Storage, err = CreateStorage(ctx, &cfg.Storage, m.Storage); err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	s.Files = files.New(s.Storage, s.Connector, files.Config{
		Prefix:    cfg.Storage.Files.Prefix,
		ChunkSize: cfg.Storage.Files.ChunkSize,
	})

	if s.scanner, err = CreateAntivirus(&cfg.Antivirus); err != nil {
		return nil, err
	}
	provider, err := CreateEditors(&cfg.Editors)
	if err != nil {
		return nil, err
	}

	s.Directory = documents.NewStaticDirectory(cfg.Directory)
	s.Publisher = notify.NewPublisher()

	s.Documents, err = documents.New(documents.Dependencies{
		Items:     repository.New[drive.DriveItem](documents.ItemsTable, s.Connector, s.Outbox),
		Versions:  repository.New[drive.FileVersion](documents.VersionsTable, s.Connector, s.Outbox),
		Files:     s.Files,
		Users:     s.Directory,
		Search:    s.Index,
		Antivirus: s.scanner,
		Editors:   provider,
		Notifier:  notify.NewLogNotifier(s.Publisher),
		Metrics:   m.Documents,
	}, cfg.Documents)
	if err != nil {
		return nil, fmt.Errorf("failed to create documents service: %w", err)
	}

	if s.Collector, err = gc.NewCollector(s.Documents, s.Directory, cfg.GC); err != nil {
		return nil, err
	}

	logger.Info("Documents stack ready: repository=%s search=%s storage=%s (%d backend(s)) antivirus=%s",
		cfg.Repository.Type, cfg.Search.Type, cfg.Storage.Strategy, len(cfg.Storage.Backends), cfg.Antivirus.Type)

	return s, nil
}

// Start starts the outbox delivery loop and the trash collector. They run
// until Close, independently of any request context, so queued index events
// can still be delivered during shutdown.
func (s *Stack) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.Outbox.Start(ctx)
	s.Collector.Start()
}

// Close stops background work and releases every resource. Errors are
// aggregated; Close keeps going after a failure.
func (s *Stack) Close(ctx context.Context) error {
	var result *multierror.Error

	if s.Collector != nil {
		if err := s.Collector.Stop(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("gc: %w", err))
		}
	}
	if s.Outbox != nil && s.cancel != nil {
		flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
		if err := s.Outbox.Flush(flushCtx); err != nil {
			logger.Warn("Outbox not drained before shutdown: %d event(s) pending", s.Outbox.Pending())
		}
		cancel()
		s.Outbox.Stop()
		s.cancel()
	}
	if scanner, ok := s.scanner.(*antivirus.HTTPScanner); ok {
		scanner.Wait()
	}
	if s.Index != nil {
		if err := s.Index.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("search: %w", err))
		}
	}
	if s.Connector != nil {
		if err := s.Connector.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("repository: %w", err))
		}
	}

	return result.ErrorOrNil()
}
