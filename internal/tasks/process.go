package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jonesrussell/goregistry/internal/cache"
	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/dataset"
	"github.com/jonesrussell/goregistry/internal/domain"
	"github.com/jonesrussell/goregistry/internal/logger"
)

const (
	// cloneMaxAttempts bounds retries of transient clone failures.
	cloneMaxAttempts = 4

	// cloneBackoffInitial is the first retry delay; subsequent delays grow
	// exponentially.
	cloneBackoffInitial = 2 * time.Second

	cacheDirPerm = 0o750
)

// Processor clones a dataset URL into a freshly allocated cache directory,
// reads its repository statistics and atomically swaps the new snapshot into
// the store. On any failure the new directory is removed and the row is left
// untouched; the superseded directory of a reprocessing is removed only after
// the commit succeeds, so a crash never leaves the store pointing at missing
// content.
type Processor struct {
	urls      *database.DatasetURLRepository
	allocator *cache.Allocator
	toolkit   dataset.Toolkit
	logger    logger.Interface
}

// NewProcessor creates a processing task runner.
func NewProcessor(
	urls *database.DatasetURLRepository,
	allocator *cache.Allocator,
	toolkit dataset.Toolkit,
	log logger.Interface,
) *Processor {
	return &Processor{
		urls:      urls,
		allocator: allocator,
		toolkit:   toolkit,
		logger:    log,
	}
}

// Process runs the processing task for the dataset URL with the given id.
// Transient clone failures are retried with exponential backoff up to
// cloneMaxAttempts; every other failure propagates unchanged.
func (p *Processor) Process(ctx context.Context, urlID int64) error {
	row, err := p.urls.GetByID(ctx, urlID)
	if err != nil {
		return err
	}

	log := p.logger.WithURLID(row.ID).WithURL(row.URL)

	operation := func() error {
		attemptErr := p.processOnce(ctx, row)
		if attemptErr == nil {
			return nil
		}
		if errors.Is(attemptErr, dataset.ErrClone) {
			log.Warn("dataset clone failed, will retry", "error", attemptErr)
			return attemptErr
		}
		return backoff.Permanent(attemptErr)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cloneBackoffInitial

	if retryErr := backoff.Retry(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, cloneMaxAttempts-1), ctx),
	); retryErr != nil {
		log.Error("dataset URL processing failed", "error", retryErr)
		return retryErr
	}

	log.Info("dataset URL processed")
	return nil
}

// processOnce performs a single processing attempt: allocate, clone, read
// stats, commit, then clean up the superseded clone.
func (p *Processor) processOnce(ctx context.Context, row *domain.DatasetURL) error {
	relative, err := p.allocator.Allocate()
	if err != nil {
		return err
	}

	absolute := filepath.Join(p.allocator.BaseDir(), relative)

	if mkdirErr := os.MkdirAll(filepath.Dir(absolute), cacheDirPerm); mkdirErr != nil {
		return fmt.Errorf("failed to create cache shard directories: %w", mkdirErr)
	}
	// Mkdir, not MkdirAll: an existing directory here means the allocator
	// broke its collision-free contract.
	if mkdirErr := os.Mkdir(absolute, cacheDirPerm); mkdirErr != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", absolute, mkdirErr)
	}

	snap, cloneErr := p.toolkit.Clone(ctx, row.URL, absolute)
	if cloneErr != nil {
		p.removeDir(absolute)
		return cloneErr
	}

	info, infoErr := p.toolkit.Info(ctx, snap)
	if infoErr != nil {
		p.removeDir(absolute)
		return fmt.Errorf("failed to read repository info for %s: %w", row.URL, infoErr)
	}

	oldCachePath, commitErr := p.urls.CommitSnapshot(ctx, row.ID, buildSnapshot(info, relative))
	if commitErr != nil {
		p.removeDir(absolute)
		return commitErr
	}

	// Best-effort cleanup after the commit: a crash here only orphans disk
	// space, never dangles a database reference.
	if oldCachePath != nil {
		p.removeDir(filepath.Join(p.allocator.BaseDir(), *oldCachePath))
	}

	return nil
}

func (p *Processor) removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		p.logger.Error("failed to remove cache directory", "path", path, "error", err)
	}
}

// buildSnapshot maps repository info onto the row fields overwritten by a
// successful processing run.
func buildSnapshot(info *dataset.RepoInfo, cachePath string) domain.Snapshot {
	gitObjectsKB := info.GitObjectsKB

	return domain.Snapshot{
		DatasetID:         info.DatasetID,
		AnnexUUID:         info.AnnexUUID,
		AnnexKeyCount:     info.AnnexKeyCount,
		AnnexedFilesCount: info.AnnexedFilesCount,
		AnnexedFilesSize:  info.AnnexedFilesSize,
		GitObjectsKB:      &gitObjectsKB,
		Head:              &info.Head,
		HeadDescribe:      &info.HeadDescribe,
		Branches:          domain.JSONBMap(info.Branches),
		Tags:              domain.JSONBMap(info.Tags),
		CachePath:         cachePath,
	}
}
