package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// subsystems are the component groups reported on the index page, in the
// order they are listed.
var subsystems = []string{"documents", "storage", "webdav"}

// Server exposes the DittoDrive registry over HTTP.
//
// Endpoints:
//   - GET /metrics: Prometheus exposition, OpenMetrics when negotiated
//   - GET /healthz: liveness probe, always 200 while the server runs
//   - GET /: plain-text index of the dittodrive metric families grouped by
//     component (documents, storage, webdav)
type Server struct {
	httpServer      *http.Server
	port            int
	shutdownTimeout time.Duration
	stopOnce        sync.Once
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on. Default: 9090
	Port int

	// ShutdownTimeout bounds the graceful shutdown triggered by context
	// cancellation in Start. Default: 5s
	ShutdownTimeout time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// NewServer creates a stopped metrics server over the global registry.
// When InitRegistry was never called, /metrics answers 503.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	var gatherer prometheus.Gatherer
	if reg := GetRegistry(); reg != nil {
		gatherer = reg
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      newHandler(gatherer, config.Port),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		port:            config.Port,
		shutdownTimeout: config.ShutdownTimeout,
	}
}

// newHandler builds the endpoint mux. A nil gatherer means metrics are
// disabled.
func newHandler(gatherer prometheus.Gatherer, port int) http.Handler {
	mux := http.NewServeMux()

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorLog:          promErrorLog{},
		}))
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		var b strings.Builder
		fmt.Fprintf(&b, "DittoDrive metrics\nscrape: http://<host>:%d/metrics\n", port)
		if gatherer == nil {
			b.WriteString("\ncollection disabled\n")
			_, _ = fmt.Fprint(w, b.String())
			return
		}

		groups, err := familiesBySubsystem(gatherer)
		if err != nil {
			logger.Warn("metrics: gathering families for index page: %v", err)
		}
		for _, sub := range subsystems {
			fams := groups[sub]
			fmt.Fprintf(&b, "\n%s (%d)\n", sub, len(fams))
			for _, f := range fams {
				fmt.Fprintf(&b, "  %-55s %-9s %s\n", f.name, f.kind, f.help)
			}
		}
		_, _ = fmt.Fprint(w, b.String())
	})

	return mux
}

type familyInfo struct {
	name string
	kind string
	help string
}

// familiesBySubsystem groups the dittodrive families that currently have
// samples by their subsystem. Runtime collectors are left out. Vectors only
// appear once a label combination has been observed.
func familiesBySubsystem(gatherer prometheus.Gatherer) (map[string][]familyInfo, error) {
	mfs, err := gatherer.Gather()
	groups := make(map[string][]familyInfo)
	prefix := namespace + "_"
	for _, mf := range mfs {
		name := mf.GetName()
		rest, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		sub, _, _ := strings.Cut(rest, "_")
		groups[sub] = append(groups[sub], familyInfo{
			name: name,
			kind: strings.ToLower(mf.GetType().String()),
			help: mf.GetHelp(),
		})
	}
	for _, fams := range groups {
		sort.Slice(fams, func(i, j int) bool { return fams[i].name < fams[j].name })
	}
	return groups, err
}

// promErrorLog routes promhttp encoding errors to the process logger.
type promErrorLog struct{}

func (promErrorLog) Println(v ...any) {
	logger.Error("metrics: %s", strings.TrimSpace(fmt.Sprintln(v...)))
}

// Start binds the port and serves until ctx is cancelled, then shuts down
// within the configured timeout. Bind failures are returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics server failed to listen on port %d: %w", s.port, err)
	}
	logger.Info("metrics: serving /metrics on port %d", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		// ctx is already cancelled; shut down on a fresh deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down gracefully. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			stopErr = fmt.Errorf("metrics server shutdown error: %w", err)
			logger.Error("metrics: shutdown: %v", err)
			return
		}
		logger.Info("metrics: server stopped")
	})
	return stopErr
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.port
}
