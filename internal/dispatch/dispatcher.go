// Package dispatch schedules periodic checks of tracked dataset URLs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/goregistry/internal/domain"
	"github.com/jonesrussell/goregistry/internal/logger"
)

// Dispatcher defaults.
const (
	defaultBatchSize = 10
	defaultInterval  = time.Minute
)

// URLSelector is the repository surface the dispatcher selects candidates from.
type URLSelector interface {
	SelectRequested(ctx context.Context, maxFailedChecks int) ([]*domain.DatasetURL, error)
	SelectStale(ctx context.Context, maxFailedChecks int, cutoff time.Time, limit int) ([]*domain.DatasetURL, error)
}

// CheckEnqueuer enqueues per-URL check tasks.
type CheckEnqueuer interface {
	EnqueueCheck(ctx context.Context, urlID int64, requested bool) error
}

// Config holds dispatcher configuration.
type Config struct {
	BatchSize        int           `yaml:"batch_size" mapstructure:"batch_size"`
	Interval         time.Duration `yaml:"interval" mapstructure:"interval"`
	MinCheckInterval time.Duration `yaml:"min_check_interval" mapstructure:"min_check_interval"`
	MaxFailedChecks  int           `yaml:"max_failed_checks" mapstructure:"max_failed_checks"`
}

// Validate validates the dispatcher configuration.
func (c Config) Validate() error {
	if c.MinCheckInterval <= 0 {
		return errors.New("min check interval must be positive")
	}
	if c.MaxFailedChecks < 0 {
		return errors.New("max failed checks cannot be negative")
	}
	return nil
}

// Dispatcher periodically selects dataset URLs due for a check and enqueues
// check tasks for them, honoring explicit requests before staleness.
type Dispatcher struct {
	urls     URLSelector
	enqueuer CheckEnqueuer
	config   Config
	cron     *cron.Cron
	logger   logger.Interface
	now      func() time.Time
}

// NewDispatcher creates a check dispatcher.
func NewDispatcher(urls URLSelector, enqueuer CheckEnqueuer, cfg Config, log logger.Interface) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	return &Dispatcher{
		urls:     urls,
		enqueuer: enqueuer,
		config:   cfg,
		cron:     cron.New(),
		logger:   log,
		now:      time.Now,
	}, nil
}

// Start schedules the dispatcher tick and starts the cron scheduler.
func (d *Dispatcher) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", d.config.Interval)
	_, err := d.cron.AddFunc(spec, func() {
		if tickErr := d.Tick(ctx); tickErr != nil {
			d.logger.Error("dispatch tick failed", "error", tickErr)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule dispatch tick: %w", err)
	}

	d.cron.Start()
	d.logger.Info("check dispatcher started",
		"interval", d.config.Interval,
		"batch_size", d.config.BatchSize,
	)

	return nil
}

// Stop stops the cron scheduler and waits for a running tick to finish.
func (d *Dispatcher) Stop() {
	stopCtx := d.cron.Stop()
	<-stopCtx.Done()
	d.logger.Info("check dispatcher stopped")
}

// Tick selects up to the batch size of dataset URLs due for a check and
// enqueues one check task per URL. Requested URLs not yet checked since their
// request come first, then requested URLs past the cooldown. Only when neither
// requested partition yields work does the tick fall back to unrequested URLs
// whose last activity is older than the cooldown, oldest first.
func (d *Dispatcher) Tick(ctx context.Context) error {
	now := d.now()

	requested, err := d.urls.SelectRequested(ctx, d.config.MaxFailedChecks)
	if err != nil {
		return fmt.Errorf("failed to select requested URLs: %w", err)
	}

	unchecked, cooled := d.partitionRequested(requested, now)

	batch := make([]*domain.DatasetURL, 0, d.config.BatchSize)
	batch = appendCapped(batch, unchecked, d.config.BatchSize)
	batch = appendCapped(batch, cooled, d.config.BatchSize)

	requestedCount := len(batch)

	if requestedCount == 0 {
		cutoff := now.Add(-d.config.MinCheckInterval)
		stale, staleErr := d.urls.SelectStale(ctx, d.config.MaxFailedChecks, cutoff, d.config.BatchSize)
		if staleErr != nil {
			return fmt.Errorf("failed to select stale URLs: %w", staleErr)
		}
		batch = append(batch, stale...)
	}

	if len(batch) == 0 {
		return nil
	}

	var enqueued int
	for i, row := range batch {
		isRequested := i < requestedCount
		if enqErr := d.enqueuer.EnqueueCheck(ctx, row.ID, isRequested); enqErr != nil {
			d.logger.Error("failed to enqueue check",
				"url_id", row.ID,
				"error", enqErr,
			)
			continue
		}
		enqueued++
	}

	d.logger.Debug("dispatch tick complete",
		"selected", len(batch),
		"enqueued", enqueued,
		"requested", requestedCount,
	)

	return nil
}

// partitionRequested splits requested URLs into those never checked since
// their request and those already checked but past the cooldown. Requested
// URLs checked within the cooldown are held back for a later tick.
func (d *Dispatcher) partitionRequested(
	rows []*domain.DatasetURL, now time.Time,
) (unchecked, cooled []*domain.DatasetURL) {
	for _, row := range rows {
		switch {
		case row.LastCheckedAt == nil,
			row.CheckRequestedAt != nil && row.LastCheckedAt.Before(*row.CheckRequestedAt):
			unchecked = append(unchecked, row)
		case now.Sub(*row.LastCheckedAt) >= d.config.MinCheckInterval:
			cooled = append(cooled, row)
		}
	}
	return unchecked, cooled
}

// appendCapped appends rows to batch without exceeding limit.
func appendCapped(batch, rows []*domain.DatasetURL, limit int) []*domain.DatasetURL {
	for _, row := range rows {
		if len(batch) >= limit {
			break
		}
		batch = append(batch, row)
	}
	return batch
}
