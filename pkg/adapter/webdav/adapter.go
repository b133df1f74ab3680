// Package webdav serves the documents service over WebDAV.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/internal/ratelimiter"
	"github.com/marmos91/dittodrive/pkg/documents"
	xwebdav "golang.org/x/net/webdav"
)

// Metrics provides observability for WebDAV requests. A nil Metrics
// disables collection.
type Metrics interface {
	// RecordRequest records a completed request.
	RecordRequest(method string, status int, duration time.Duration)

	// RecordRequestStart increments the in-flight gauge for method.
	RecordRequestStart(method string)

	// RecordRequestEnd decrements the in-flight gauge for method.
	RecordRequestEnd(method string)

	// RecordRateLimited counts a request rejected by the rate limiter.
	RecordRateLimited()
}

// limiterSweepInterval is how often idle rate limiter buckets are dropped.
const limiterSweepInterval = 5 * time.Minute

// Adapter implements adapter.Adapter for WebDAV.
//
// Requests go through authentication (JWT bearer or basic-auth password),
// per-user rate limiting and then x/net/webdav backed by FileSystem and an
// in-memory lock system.
//
// Thread safety:
// All methods are safe for concurrent use. Stop is idempotent.
type Adapter struct {
	config  Config
	metrics Metrics
	auth    *Authenticator
	limiter *ratelimiter.RateLimiter
	locks   xwebdav.LockSystem

	mu       sync.Mutex
	docs     Documents
	server   *http.Server
	listener net.Listener

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New creates a WebDAV adapter. Call SetDocuments before Serve.
//
// Panics if config validation fails.
func New(config Config, metrics Metrics) *Adapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid WebDAV config: %v", err))
	}

	return &Adapter{
		config:   config,
		metrics:  metrics,
		auth:     NewAuthenticator(config.JWTSecret),
		limiter:  ratelimiter.New(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst),
		locks:    xwebdav.NewMemLS(),
		shutdown: make(chan struct{}),
	}
}

// SetDocuments injects the shared documents service.
func (a *Adapter) SetDocuments(svc *documents.Service) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docs = svc
	logger.Debug("WebDAV documents service configured")
}

// Authenticator returns the adapter's token authenticator.
func (a *Adapter) Authenticator() *Authenticator {
	return a.auth
}

// Handler returns the complete HTTP handler chain.
func (a *Adapter) Handler() http.Handler {
	a.mu.Lock()
	docs := a.docs
	a.mu.Unlock()

	dav := &xwebdav.Handler{
		Prefix:     a.config.Prefix,
		FileSystem: NewFileSystem(docs),
		LockSystem: a.locks,
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Debug("WebDAV %s %s: %v", r.Method, r.URL.Path, err)
			}
		},
	}
	return a.instrument(a.authenticate(a.rateLimit(dav)))
}

func (a *Adapter) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ec, err := a.auth.Authenticate(r)
		if err != nil {
			logger.Debug("WebDAV authentication failed from %s: %v", r.RemoteAddr, err)
			w.Header().Set("WWW-Authenticate", `Basic realm="dittodrive"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithExecutionContext(r.Context(), ec)))
	})
}

func (a *Adapter) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ec, _ := ExecutionContextFrom(r.Context())
		if !a.limiter.Allow(ec.CompanyID + "/" + ec.UserID) {
			if a.metrics != nil {
				a.metrics.RecordRateLimited()
			}
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

func (a *Adapter) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		if a.metrics != nil {
			a.metrics.RecordRequestStart(r.Method)
			defer a.metrics.RecordRequestEnd(r.Method)
		}

		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		if a.metrics != nil {
			a.metrics.RecordRequest(r.Method, rec.status, time.Since(start))
		}
		logger.Debug("WebDAV %s %s -> %d in %v", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// Serve starts the HTTP listener and blocks until ctx is cancelled or Stop
// is called.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener fails to start or the server fails
func (a *Adapter) Serve(ctx context.Context) error {
	a.mu.Lock()
	if a.docs == nil {
		a.mu.Unlock()
		return errors.New("webdav: documents service not configured")
	}
	a.mu.Unlock()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create WebDAV listener on port %d: %w", a.config.Port, err)
	}

	server := &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	}

	a.mu.Lock()
	a.listener = listener
	a.server = server
	a.mu.Unlock()

	logger.Info("WebDAV server listening on port %d (prefix %s)", a.config.Port, a.config.Prefix)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("WebDAV shutdown signal received: %v", ctx.Err())
			stopCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
			defer cancel()
			_ = a.Stop(stopCtx)
		case <-a.shutdown:
		}
	}()
	go a.sweepLimiter()

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webdav server failed: %w", err)
	}
	return nil
}

func (a *Adapter) sweepLimiter() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := a.limiter.Sweep(limiterSweepInterval); n > 0 {
				logger.Debug("WebDAV rate limiter dropped %d idle buckets", n)
			}
		case <-a.shutdown:
			return
		}
	}
}

// Stop gracefully shuts down the HTTP server, waiting for in-flight
// requests until ctx expires.
func (a *Adapter) Stop(ctx context.Context) error {
	var err error
	a.shutdownOnce.Do(func() {
		close(a.shutdown)

		a.mu.Lock()
		server := a.server
		a.mu.Unlock()
		if server == nil {
			return
		}
		if err = server.Shutdown(ctx); err != nil {
			logger.Warn("WebDAV graceful shutdown failed, closing: %v", err)
			_ = server.Close()
		} else {
			logger.Info("WebDAV server stopped gracefully")
		}
	})
	return err
}

// Protocol returns "WebDAV".
func (a *Adapter) Protocol() string {
	return "WebDAV"
}

// Port returns the configured port.
func (a *Adapter) Port() int {
	return a.config.Port
}
