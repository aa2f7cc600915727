// Package worker provides the bounded-concurrency pool draining the task queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/goregistry/internal/logger"
	"github.com/jonesrussell/goregistry/internal/queue"
)

// PoolState represents the current state of the pool.
type PoolState int32

const (
	// PoolStateStopped means the pool is not running.
	PoolStateStopped PoolState = iota

	// PoolStateRunning means the pool is actively processing tasks.
	PoolStateRunning

	// PoolStateDraining means the pool is shutting down gracefully.
	PoolStateDraining
)

// String returns the string representation of a pool state.
func (s PoolState) String() string {
	switch s {
	case PoolStateStopped:
		return "stopped"
	case PoolStateRunning:
		return "running"
	case PoolStateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// TaskHandler processes a single consumed task.
type TaskHandler interface {
	Handle(ctx context.Context, task *queue.ConsumedTask) error
}

// Config holds worker pool configuration.
type Config struct {
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	TaskTimeout  time.Duration `yaml:"task_timeout" mapstructure:"task_timeout"`
	DrainTimeout time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout"`
}

// Validate validates the pool configuration.
func (c Config) Validate() error {
	if c.PoolSize <= 0 {
		return errors.New("pool size must be positive")
	}
	if c.TaskTimeout <= 0 {
		return errors.New("task timeout must be positive")
	}
	return nil
}

// Pool bounds the number of tasks processed concurrently.
type Pool struct {
	config  Config
	handler TaskHandler
	logger  logger.Interface
	state   atomic.Int32
	sem     chan struct{} // Semaphore for bounded concurrency
	wg      sync.WaitGroup
	stopCh  chan struct{}

	// Stats
	totalProcessed atomic.Int64
	totalSucceeded atomic.Int64
	totalFailed    atomic.Int64
}

// NewPool creates a new worker pool.
func NewPool(cfg Config, handler TaskHandler, log logger.Interface) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	p := &Pool{
		config:  cfg,
		handler: handler,
		logger:  log,
		sem:     make(chan struct{}, cfg.PoolSize),
		stopCh:  make(chan struct{}),
	}

	p.state.Store(int32(PoolStateStopped))

	return p, nil
}

// Start starts the worker pool.
func (p *Pool) Start() error {
	if !p.state.CompareAndSwap(int32(PoolStateStopped), int32(PoolStateRunning)) {
		return errors.New("pool is already running")
	}

	p.logger.Info("worker pool started", "pool_size", p.config.PoolSize)

	return nil
}

// Stop gracefully stops the worker pool.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PoolStateRunning), int32(PoolStateDraining)) {
		return errors.New("pool is not running")
	}

	p.logger.Info("worker pool draining")

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	drainTimeout := p.config.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = p.config.TaskTimeout
	}

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out")
	case <-time.After(drainTimeout):
		p.logger.Warn("worker pool drain timeout exceeded")
	}

	p.state.Store(int32(PoolStateStopped))
	return nil
}

// Submit submits a task for processing. Blocks while all workers are busy.
// The task's handler runs with the pool's task timeout applied.
func (p *Pool) Submit(ctx context.Context, task *queue.ConsumedTask) error {
	if p.State() != PoolStateRunning {
		return errors.New("pool is not running")
	}

	// Acquire semaphore (blocks if pool is full)
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return errors.New("pool is stopping")
	}

	p.wg.Add(1)

	go func() {
		defer func() {
			<-p.sem // Release semaphore
			p.wg.Done()
		}()

		taskCtx, cancel := context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()

		err := p.handler.Handle(taskCtx, task)

		p.totalProcessed.Add(1)
		if err != nil {
			p.totalFailed.Add(1)
			p.logger.Error("task failed",
				"kind", task.Task.Kind,
				"url_id", task.Task.URLID,
				"error", err,
			)
		} else {
			p.totalSucceeded.Add(1)
		}
	}()

	return nil
}

// State returns the current pool state.
func (p *Pool) State() PoolState {
	return PoolState(p.state.Load())
}

// Stats returns processed/succeeded/failed counters.
func (p *Pool) Stats() (processed, succeeded, failed int64) {
	return p.totalProcessed.Load(), p.totalSucceeded.Load(), p.totalFailed.Load()
}
