// Package gc provides trash retention for the documents service.
//
// Items stay in trash until a user empties it or until they have been there
// longer than the retention period. The collector enforces the latter by
// periodically purging, company by company, every trashed item whose last
// modification (the moment it was trashed) is older than the cutoff.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
)

// Purger permanently removes trashed items older than cutoff in one company.
//
// Implemented by documents.Service.
type Purger interface {
	PurgeExpired(ctx context.Context, companyID string, cutoff time.Time) (int, error)
}

// CompanyLister enumerates the companies the collector visits.
type CompanyLister interface {
	Companies(ctx context.Context) ([]string, error)
}

// Collector performs periodic trash retention.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	purger    Purger
	companies CompanyLister
	config    Config
	now       func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config contains configuration for the collector.
type Config struct {
	// Enabled controls whether retention runs in the background.
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often to run (default: 24h).
	Interval time.Duration `mapstructure:"interval" validate:"omitempty,gt=0"`

	// Retention is how long trashed items are kept (default: 30 days).
	Retention time.Duration `mapstructure:"retention" validate:"omitempty,gt=0"`

	// RunTimeout bounds a single run (default: 10m).
	RunTimeout time.Duration `mapstructure:"run_timeout" validate:"omitempty,gt=0"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = 24 * time.Hour
	}
	if c.Retention == 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = 10 * time.Minute
	}
}

// NewCollector creates a collector. It is not started.
//
// Parameters:
//   - purger: Removes expired trash in one company
//   - companies: Lists the companies to visit on every run
//   - config: Retention configuration
func NewCollector(purger Purger, companies CompanyLister, config Config) (*Collector, error) {
	if purger == nil || companies == nil {
		return nil, fmt.Errorf("gc: purger and company lister are required")
	}
	config.ApplyDefaults()

	return &Collector{
		purger:    purger,
		companies: companies,
		config:    config,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins background collection. Subsequent calls are no-ops.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Trash retention disabled")
		return
	}
	c.startOnce.Do(func() {
		logger.Info("Starting trash retention: interval=%s retention=%s", c.config.Interval, c.config.Retention)
		go c.worker()
	})
}

// Stop stops the collector and waits for an in-progress run to finish.
//
// Parameters:
//   - ctx: Bounds the wait
//
// Returns:
//   - error: ctx.Err() if ctx expires before the worker exits
func (c *Collector) Stop(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	c.stopOnce.Do(func() { close(c.stopCh) })
	c.startOnce.Do(func() { close(c.doneCh) })

	select {
	case <-c.doneCh:
		logger.Info("Trash retention stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Trash retention shutdown timeout")
		return ctx.Err()
	}
}

// RunNow runs one collection and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running trash retention (manual trigger)...")
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.RunTimeout)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Trash retention failed: %v", err)
			} else {
				logger.Info("Trash retention completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect purges expired trash in every company. A failing company is
// counted and skipped.
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	cutoff := c.now().Add(-c.config.Retention)

	companies, err := c.companies.Companies(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list companies: %w", err)
	}

	for _, company := range companies {
		if err := ctx.Err(); err != nil {
			stats.EndTime = time.Now()
			return stats, err
		}

		n, err := c.purger.PurgeExpired(ctx, company, cutoff)
		stats.PurgedCount += uint64(n)
		if err != nil {
			logger.Warn("GC: retention in company %s failed: %v", company, err)
			stats.FailedCompanies++
			continue
		}
		stats.CompanyCount++
		if n > 0 {
			logger.Debug("GC: purged %d expired items in company %s", n, company)
		}
	}

	stats.EndTime = time.Now()
	return stats, nil
}

// Stats contains statistics from a retention run.
type Stats struct {
	StartTime       time.Time
	EndTime         time.Time
	CompanyCount    uint64 // Companies processed successfully
	FailedCompanies uint64
	PurgedCount     uint64 // Trashed roots purged
}

// Duration returns the total run duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the run.
func (s *Stats) Summary() string {
	return fmt.Sprintf("companies=%d failed=%d purged=%d duration=%s",
		s.CompanyCount, s.FailedCompanies, s.PurgedCount, s.Duration())
}
