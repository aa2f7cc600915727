package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migrations are applied in order at startup. Statements are idempotent so
// repeated startups are safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS dataset_urls (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		dataset_id TEXT,
		annex_uuid TEXT,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		cache_path TEXT,
		annex_key_count BIGINT,
		annexed_files_count BIGINT,
		annexed_files_size BIGINT,
		git_objects_kb BIGINT,
		head TEXT,
		head_describe TEXT,
		branches JSONB,
		tags JSONB,
		last_updated_at TIMESTAMPTZ,
		check_requested_at TIMESTAMPTZ,
		last_checked_at TIMESTAMPTZ,
		failed_check_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dataset_urls_check_requested
		ON dataset_urls (check_requested_at)
		WHERE check_requested_at IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_dataset_urls_dataset_id
		ON dataset_urls (dataset_id)`,
	`CREATE TABLE IF NOT EXISTS url_metadata (
		id BIGSERIAL PRIMARY KEY,
		dataset_url_id BIGINT NOT NULL REFERENCES dataset_urls(id) ON DELETE CASCADE,
		extractor_name TEXT NOT NULL,
		extractor_version TEXT NOT NULL,
		dataset_version TEXT NOT NULL,
		dataset_describe TEXT,
		extraction_parameters JSONB NOT NULL DEFAULT '{}',
		extracted_metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (dataset_url_id, extractor_name, dataset_version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_url_metadata_dataset_url_id
		ON url_metadata (dataset_url_id)`,
}

// Migrate applies the schema migrations.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}
	return nil
}
