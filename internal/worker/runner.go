package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/logger"
	"github.com/jonesrussell/goregistry/internal/queue"
	"github.com/jonesrussell/goregistry/internal/tasks"
)

// Runner drains the task stream, dispatching each task to the pool and
// acknowledging messages only after their handler returns. Redelivered
// duplicates are therefore expected and every handler is idempotent.
type Runner struct {
	consumer *queue.Consumer
	pool     *Pool
	logger   logger.Interface
}

// NewRunner creates a runner draining tasks from the consumer into the pool.
func NewRunner(consumer *queue.Consumer, pool *Pool, log logger.Interface) *Runner {
	return &Runner{
		consumer: consumer,
		pool:     pool,
		logger:   log,
	}
}

// Run consumes tasks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.pool.Start(); err != nil {
		return fmt.Errorf("failed to start pool: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := r.consumer.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.logger.Error("failed to fetch tasks", "error", err)
			continue
		}

		for _, task := range batch {
			if submitErr := r.pool.Submit(ctx, task); submitErr != nil {
				r.logger.Warn("failed to submit task",
					"kind", task.Task.Kind,
					"url_id", task.Task.URLID,
					"error", submitErr,
				)
			}
		}
	}
}

// Dispatcher routes consumed tasks to the processing, extraction and check
// handlers. It implements TaskHandler.
type Dispatcher struct {
	processor  *tasks.Processor
	extractor  *tasks.MetaExtractor
	checker    *tasks.Checker
	producer   *queue.Producer
	consumer   *queue.Consumer
	extractors []string
	logger     logger.Interface
}

// NewDispatcher creates a task dispatcher. The extractors slice names the
// extractors fanned out after each successful processing task.
func NewDispatcher(
	processor *tasks.Processor,
	extractor *tasks.MetaExtractor,
	checker *tasks.Checker,
	producer *queue.Producer,
	consumer *queue.Consumer,
	extractors []string,
	log logger.Interface,
) *Dispatcher {
	return &Dispatcher{
		processor:  processor,
		extractor:  extractor,
		checker:    checker,
		producer:   producer,
		consumer:   consumer,
		extractors: extractors,
		logger:     log,
	}
}

// Handle runs a single task and acknowledges its message on completion.
// Transient failures leave the message unacked for redelivery; failures that
// retrying cannot fix are acked away.
func (d *Dispatcher) Handle(ctx context.Context, task *queue.ConsumedTask) error {
	err := d.handle(ctx, task.Task)

	if err == nil || !isRetryable(err) {
		if ackErr := d.consumer.Ack(ctx, task.MessageID); ackErr != nil {
			d.logger.Warn("failed to ack message",
				"message_id", task.MessageID,
				"error", ackErr,
			)
		}
	}

	return err
}

func (d *Dispatcher) handle(ctx context.Context, task *queue.Task) error {
	switch task.Kind {
	case queue.KindProcess:
		if err := d.processor.Process(ctx, task.URLID); err != nil {
			return err
		}
		d.fanOutExtraction(ctx, task.URLID)
		return nil

	case queue.KindExtract:
		status, err := d.extractor.Extract(ctx, task.URLID, task.Extractor)
		if err != nil {
			return err
		}
		d.logger.Debug("extraction finished",
			"url_id", task.URLID,
			"extractor", task.Extractor,
			"status", status,
		)
		return nil

	case queue.KindCheck:
		return d.checker.Check(ctx, task.URLID, task.Requested)

	default:
		return fmt.Errorf("unknown task kind: %s", task.Kind)
	}
}

// fanOutExtraction enqueues one extraction task per configured extractor.
func (d *Dispatcher) fanOutExtraction(ctx context.Context, urlID int64) {
	for _, name := range d.extractors {
		if err := d.producer.EnqueueExtract(ctx, urlID, name); err != nil {
			d.logger.Error("failed to enqueue extraction",
				"url_id", urlID,
				"extractor", name,
				"error", err,
			)
		}
	}
}

// isRetryable reports whether a redelivery could succeed where this attempt
// failed. Rows that no longer exist or were never processed stay that way
// until another task changes them, so redelivering is pointless.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, database.ErrNotFound),
		errors.Is(err, database.ErrNotProcessed),
		errors.Is(err, tasks.ErrNoMetadataProduced),
		errors.Is(err, tasks.ErrNoValidMetadata):
		return false
	}
	return true
}
