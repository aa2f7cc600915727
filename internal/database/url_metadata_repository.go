package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/goregistry/internal/domain"
)

// urlMetadataColumns lists columns for SELECT queries on url_metadata.
const urlMetadataColumns = `id, dataset_url_id, extractor_name, extractor_version,
	dataset_version, dataset_describe, extraction_parameters, extracted_metadata,
	created_at`

// URLMetadataRepository handles database operations for extracted metadata records.
type URLMetadataRepository struct {
	db *sqlx.DB
}

// NewURLMetadataRepository creates a new metadata record repository.
func NewURLMetadataRepository(db *sqlx.DB) *URLMetadataRepository {
	return &URLMetadataRepository{db: db}
}

// ListForURL returns all metadata records owned by the given dataset URL.
func (r *URLMetadataRepository) ListForURL(ctx context.Context, datasetURLID int64) ([]*domain.URLMetadata, error) {
	query := `
		SELECT ` + urlMetadataColumns + `
		FROM url_metadata
		WHERE dataset_url_id = $1
		ORDER BY extractor_name ASC, id ASC
	`

	var records []*domain.URLMetadata
	if err := r.db.SelectContext(ctx, &records, query, datasetURLID); err != nil {
		return nil, fmt.Errorf("failed to list metadata records: %w", err)
	}

	if records == nil {
		records = []*domain.URLMetadata{}
	}

	return records, nil
}

// Replace deletes the stale records and inserts the new ones in a single
// transaction, committing once after all records are staged. Either every
// change lands or none do, which keeps a crashed extraction re-runnable.
func (r *URLMetadataRepository) Replace(
	ctx context.Context,
	staleIDs []int64,
	records []*domain.URLMetadata,
) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin metadata transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if len(staleIDs) > 0 {
		deleteQuery := `DELETE FROM url_metadata WHERE id = ANY($1)`
		if _, deleteErr := tx.ExecContext(ctx, deleteQuery, pq.Array(staleIDs)); deleteErr != nil {
			return fmt.Errorf("failed to delete stale metadata records: %w", deleteErr)
		}
	}

	insertQuery := `
		INSERT INTO url_metadata (
			dataset_url_id, extractor_name, extractor_version,
			dataset_version, dataset_describe, extraction_parameters, extracted_metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, record := range records {
		_, insertErr := tx.ExecContext(
			ctx, insertQuery,
			record.DatasetURLID,
			record.ExtractorName,
			record.ExtractorVersion,
			record.DatasetVersion,
			record.DatasetDescribe,
			record.ExtractionParameters,
			record.ExtractedMetadata,
		)
		if insertErr != nil {
			return fmt.Errorf("failed to insert metadata record for extractor %s: %w",
				record.ExtractorName, insertErr)
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("failed to commit metadata records: %w", commitErr)
	}

	return nil
}
