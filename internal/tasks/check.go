package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/dataset"
	"github.com/jonesrussell/goregistry/internal/logger"
)

// ProcessEnqueuer enqueues processing tasks. Satisfied by the queue producer.
type ProcessEnqueuer interface {
	EnqueueProcess(ctx context.Context, urlID int64) error
}

// Checker performs per-URL checks: under an exclusive row lock it compares
// the remote's advertised head against the stored one and re-enqueues a
// processing task when the remote has new content. The check request is
// cleared only on completion, never at dispatch, so a crash between the two
// leaves the request pending for the next dispatcher tick.
type Checker struct {
	urls             *database.DatasetURLRepository
	toolkit          dataset.Toolkit
	processes        ProcessEnqueuer
	minCheckInterval time.Duration
	logger           logger.Interface
}

// NewChecker creates a per-URL check task runner.
func NewChecker(
	urls *database.DatasetURLRepository,
	toolkit dataset.Toolkit,
	processes ProcessEnqueuer,
	minCheckInterval time.Duration,
	log logger.Interface,
) *Checker {
	return &Checker{
		urls:             urls,
		toolkit:          toolkit,
		processes:        processes,
		minCheckInterval: minCheckInterval,
		logger:           log,
	}
}

// Check checks the dataset URL with the given id for upstream changes.
// isRequested marks checks satisfying an explicit request; background checks
// within the cooldown window are no-ops because a concurrent worker already
// covered the window.
func (c *Checker) Check(ctx context.Context, urlID int64, isRequested bool) error {
	claim, err := c.urls.ClaimForCheck(ctx, urlID)
	if err != nil {
		return err
	}

	row := claim.URL
	log := c.logger.WithURLID(row.ID).WithURL(row.URL)

	if !row.Processed {
		_ = claim.Release()
		return fmt.Errorf("dataset URL %d (%s): %w", row.ID, row.URL, database.ErrNotProcessed)
	}

	if !isRequested && row.LastCheckedAt != nil &&
		time.Since(*row.LastCheckedAt) < c.minCheckInterval {
		// Another worker checked this URL within the window.
		log.Debug("check skipped, window already covered")
		return claim.Release()
	}

	remoteHead, headErr := c.toolkit.RemoteHead(ctx, row.URL)
	if headErr != nil {
		log.Warn("dataset URL check failed", "error", headErr)
		if failErr := claim.Fail(ctx); failErr != nil {
			return failErr
		}
		return headErr
	}

	changed := row.Head == nil || *row.Head != remoteHead
	clearRequest := isRequested && row.CheckRequestedAt != nil

	if succeedErr := claim.Succeed(ctx, clearRequest); succeedErr != nil {
		return succeedErr
	}

	if !changed {
		log.Debug("dataset URL unchanged")
		return nil
	}

	// Re-process outside the row lock; the processing task serializes on the
	// row itself when committing.
	log.Info("dataset URL changed upstream, reprocessing", "remote_head", remoteHead)
	if enqueueErr := c.processes.EnqueueProcess(ctx, row.ID); enqueueErr != nil {
		return fmt.Errorf("failed to enqueue reprocessing: %w", enqueueErr)
	}

	return nil
}
