package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/adapter"
	"github.com/marmos91/dittodrive/pkg/documents"
	"github.com/marmos91/dittodrive/pkg/metrics"
)

// stopTimeout bounds the Stop() calls issued during shutdown.
const stopTimeout = 30 * time.Second

// ErrAlreadyServed is returned by Serve when called more than once.
var ErrAlreadyServed = errors.New("Serve() has already been called on this server instance")

// DittoServer manages the lifecycle of the protocol adapters that expose a
// shared documents service, plus the optional metrics HTTP endpoint.
//
// Lifecycle:
//  1. Creation: New() with the documents service
//  2. Registration: AddAdapter() for each protocol, SetMetricsServer() optionally
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: Context cancellation triggers graceful shutdown of all adapters
//
// Thread safety:
// DittoServer is safe for concurrent use. AddAdapter() may be called concurrently
// with other methods. Serve() should only be called once per server instance.
//
// Example usage:
//
//	server := New(docs)
//	server.AddAdapter(webdav.New(webdavConfig, metrics.NewWebDAVMetrics()))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := server.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type DittoServer struct {
	// docs is the documents service shared by all adapters
	docs *documents.Service

	// adapters contains all registered protocol adapters
	adapters []adapter.Adapter

	// metricsServer is started with the adapters when set
	metricsServer *metrics.Server

	// mu protects adapters, metricsServer and served
	mu sync.RWMutex

	served bool
}

// New creates a new DittoServer around the documents service.
//
// Panics if docs is nil (indicates programmer error).
func New(docs *documents.Service) *DittoServer {
	if docs == nil {
		panic("documents service cannot be nil")
	}

	return &DittoServer{
		docs:     docs,
		adapters: make([]adapter.Adapter, 0, 2),
	}
}

// SetMetricsServer registers the metrics HTTP server. It is started and
// stopped together with the adapters.
func (s *DittoServer) SetMetricsServer(ms *metrics.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsServer = ms
}

// AddAdapter registers a new protocol adapter with the server.
//
// The documents service is injected into the adapter. Duplicate protocols
// or port conflicts (including the metrics port) are reported as errors.
//
// Panics if:
//   - adapter is nil (programmer error)
//   - Serve() has already been called (server is running)
func (s *DittoServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}
	if s.metricsServer != nil && s.metricsServer.Port() == port {
		return fmt.Errorf("port %d already in use by the metrics server", port)
	}

	a.SetDocuments(s.docs)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Serve starts all registered adapters and blocks until the context is cancelled
// or an adapter fails.
//
// Shutdown behavior:
// When the context is cancelled or an adapter fails:
//   - All adapters receive Stop() calls in reverse registration order
//   - Stop() calls share a 30 second timeout
//   - Serve() waits for all adapters to complete before returning
//
// Returns:
//   - context.Canceled (or the context's error) on graceful shutdown
//   - error if an adapter failed
//   - ErrAlreadyServed on a second call
func (s *DittoServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	metricsServer := s.metricsServer
	s.mu.Unlock()

	logger.Info("Starting DittoServer with %d adapter(s)", len(adapters))

	// Buffered so failing adapters never block
	errChan := make(chan adapterError, len(adapters)+1)
	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			if err := a.Serve(ctx); err != nil {
				// context.Canceled is expected during shutdown
				if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
				}
				return
			}
			logger.Info("%s adapter stopped", protocol)
		}(adp)
	}

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	if metricsServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsServer.Start(metricsCtx); err != nil {
				errChan <- adapterError{protocol: "metrics", err: err}
			}
		}()
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	s.stopAllAdapters(adapters)
	stopMetrics()

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	logger.Info("DittoServer stopped gracefully")
	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error for better error reporting.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters initiates graceful shutdown of all adapters in reverse
// registration order. Errors are logged and do not stop the remaining
// adapters.
func (s *DittoServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		} else {
			logger.Debug("%s adapter stop signal sent", adp.Protocol())
		}
	}
}

// Adapters returns a snapshot of currently registered adapters.
func (s *DittoServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
