package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/dataset"
	"github.com/jonesrussell/goregistry/internal/domain"
	"github.com/jonesrussell/goregistry/internal/logger"
)

// MetaExtractor runs a named metadata extractor against the cached clone of a
// processed dataset URL and persists the valid results, de-duplicating against
// already-stored records by dataset version. Safe to re-run at any point: a
// re-run before the commit repeats the extraction, a re-run after it is
// skipped.
type MetaExtractor struct {
	urls     *database.DatasetURLRepository
	metadata *database.URLMetadataRepository
	toolkit  dataset.Toolkit
	runner   dataset.Extractor
	cacheDir string
	logger   logger.Interface
}

// NewMetaExtractor creates a metadata extraction task runner. cacheDir is the
// base directory cache paths are relative to.
func NewMetaExtractor(
	urls *database.DatasetURLRepository,
	metadata *database.URLMetadataRepository,
	toolkit dataset.Toolkit,
	runner dataset.Extractor,
	cacheDir string,
	log logger.Interface,
) *MetaExtractor {
	return &MetaExtractor{
		urls:     urls,
		metadata: metadata,
		toolkit:  toolkit,
		runner:   runner,
		cacheDir: cacheDir,
		logger:   log,
	}
}

// Extract runs the named extractor for the dataset URL with the given id.
// Returns ExtractAborted when a required file is missing from the clone and
// ExtractSkipped when the stored record already covers the clone's current
// version.
func (e *MetaExtractor) Extract(
	ctx context.Context, urlID int64, extractor string,
) (domain.ExtractStatus, error) {
	row, err := e.urls.GetByID(ctx, urlID)
	if err != nil {
		return "", err
	}

	if !row.Processed {
		return "", fmt.Errorf("dataset URL %d (%s): %w", row.ID, row.URL, database.ErrNotProcessed)
	}
	if row.CachePath == nil {
		return "", fmt.Errorf("dataset URL %d is processed but has no cache path", row.ID)
	}

	log := e.logger.WithURLID(row.ID).WithExtractor(extractor)
	cacheAbs := filepath.Join(e.cacheDir, *row.CachePath)

	for _, required := range e.runner.RequiredFiles(extractor) {
		if !fileExists(filepath.Join(cacheAbs, required)) {
			log.Info("extraction aborted, required file missing", "file", required)
			return domain.ExtractAborted, nil
		}
	}

	staleIDs, skipped, err := e.findStaleRecord(ctx, row.ID, extractor, cacheAbs)
	if err != nil {
		return "", err
	}
	if skipped {
		log.Debug("extraction skipped, metadata already recorded")
		return domain.ExtractSkipped, nil
	}

	results, extractErr := e.runner.Extract(ctx, extractor, cacheAbs)
	if extractErr != nil {
		return "", extractErr
	}
	if len(results) == 0 {
		return "", fmt.Errorf("extractor %s for %s: %w", extractor, row.URL, ErrNoMetadataProduced)
	}

	records := e.collectRecords(row, results, log)
	if len(records) == 0 {
		return "", fmt.Errorf("extractor %s for %s: %w", extractor, row.URL, ErrNoValidMetadata)
	}

	if replaceErr := e.metadata.Replace(ctx, staleIDs, records); replaceErr != nil {
		return "", replaceErr
	}

	log.Info("metadata extracted", "records", len(records))
	return domain.ExtractSucceeded, nil
}

// findStaleRecord looks for an existing record of this extractor. When the
// clone's current version matches the stored record the extraction is
// redundant; otherwise the stale record's id is returned for replacement.
func (e *MetaExtractor) findStaleRecord(
	ctx context.Context, urlID int64, extractor, cacheAbs string,
) (staleIDs []int64, skip bool, err error) {
	records, err := e.metadata.ListForURL(ctx, urlID)
	if err != nil {
		return nil, false, err
	}

	for _, record := range records {
		if record.ExtractorName != extractor {
			continue
		}

		version, versionErr := e.toolkit.Version(ctx, cacheAbs)
		if versionErr != nil {
			return nil, false, fmt.Errorf("failed to read cached dataset version: %w", versionErr)
		}

		if version == record.DatasetVersion {
			return nil, true, nil
		}

		staleIDs = append(staleIDs, record.ID)
		break
	}

	return staleIDs, false, nil
}

// collectRecords converts the "ok" result entries into metadata rows.
// Non-"ok" entries are logged and dropped.
func (e *MetaExtractor) collectRecords(
	row *domain.DatasetURL, results []dataset.ExtractResult, log logger.Interface,
) []*domain.URLMetadata {
	records := make([]*domain.URLMetadata, 0, len(results))

	for _, result := range results {
		if result.Status != dataset.ResultStatusOK || result.MetadataRecord == nil {
			log.Debug("dropping extractor result", "status", result.Status)
			continue
		}

		payload := result.MetadataRecord
		records = append(records, &domain.URLMetadata{
			DatasetURLID:         row.ID,
			ExtractorName:        payload.ExtractorName,
			ExtractorVersion:     payload.ExtractorVersion,
			DatasetVersion:       payload.DatasetVersion,
			DatasetDescribe:      row.HeadDescribe,
			ExtractionParameters: domain.JSONBMap(payload.ExtractionParameters),
			ExtractedMetadata:    domain.JSONBMap(payload.ExtractedMetadata),
		})
	}

	return records
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
