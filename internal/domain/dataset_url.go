// Package domain provides domain models used across the application.
package domain

import (
	"time"
)

// DatasetURL represents a tracked remote dataset location together with the
// statistics gathered from its most recent local clone. The stats columns are
// null until the URL has been processed for the first time and are fully
// overwritten on each successful reprocessing.
type DatasetURL struct {
	ID        int64  `db:"id" json:"id"`
	URL       string `db:"url" json:"url"`
	DatasetID *string `db:"dataset_id" json:"dataset_id,omitempty"`
	AnnexUUID *string `db:"annex_uuid" json:"annex_uuid,omitempty"`

	Processed bool    `db:"processed" json:"processed"`
	CachePath *string `db:"cache_path" json:"cache_path,omitempty"`

	AnnexKeyCount     *int64   `db:"annex_key_count" json:"annex_key_count,omitempty"`
	AnnexedFilesCount *int64   `db:"annexed_files_count" json:"annexed_files_count,omitempty"`
	AnnexedFilesSize  *int64   `db:"annexed_files_size" json:"annexed_files_size,omitempty"`
	GitObjectsKB      *int64   `db:"git_objects_kb" json:"git_objects_kb,omitempty"`
	Head              *string  `db:"head" json:"head,omitempty"`
	HeadDescribe      *string  `db:"head_describe" json:"head_describe,omitempty"`
	Branches          JSONBMap `db:"branches" json:"branches,omitempty"`
	Tags              JSONBMap `db:"tags" json:"tags,omitempty"`

	LastUpdatedAt    *time.Time `db:"last_updated_at" json:"last_updated_at,omitempty"`
	CheckRequestedAt *time.Time `db:"check_requested_at" json:"check_requested_at,omitempty"`
	LastCheckedAt    *time.Time `db:"last_checked_at" json:"last_checked_at,omitempty"`
	FailedCheckCount int        `db:"failed_check_count" json:"failed_check_count"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Snapshot holds the full set of fields overwritten by a successful
// processing run. Every field is written, so a reprocessing clears stats the
// remote no longer reports.
type Snapshot struct {
	DatasetID         *string
	AnnexUUID         *string
	AnnexKeyCount     *int64
	AnnexedFilesCount *int64
	AnnexedFilesSize  *int64
	GitObjectsKB      *int64
	Head              *string
	HeadDescribe      *string
	Branches          JSONBMap
	Tags              JSONBMap
	CachePath         string
}
