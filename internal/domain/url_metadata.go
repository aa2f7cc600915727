package domain

import (
	"time"
)

// URLMetadata is a metadata record extracted from a cached dataset clone by a
// named extractor. At most one record per (dataset URL, extractor, dataset
// version) is retained; a newer extraction for a new dataset version replaces
// the old record.
type URLMetadata struct {
	ID                   int64    `db:"id" json:"id"`
	DatasetURLID         int64    `db:"dataset_url_id" json:"dataset_url_id"`
	ExtractorName        string   `db:"extractor_name" json:"extractor_name"`
	ExtractorVersion     string   `db:"extractor_version" json:"extractor_version"`
	DatasetVersion       string   `db:"dataset_version" json:"dataset_version"`
	DatasetDescribe      *string  `db:"dataset_describe" json:"dataset_describe,omitempty"`
	ExtractionParameters JSONBMap `db:"extraction_parameters" json:"extraction_parameters"`
	ExtractedMetadata    JSONBMap `db:"extracted_metadata" json:"extracted_metadata"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ExtractStatus is the outcome of a metadata extraction task.
type ExtractStatus string

const (
	// ExtractSucceeded means valid metadata was extracted and recorded.
	ExtractSucceeded ExtractStatus = "succeeded"
	// ExtractAborted means a file required by the extractor is missing from
	// the cached clone; nothing was recorded.
	ExtractAborted ExtractStatus = "aborted"
	// ExtractSkipped means the metadata for the current dataset version is
	// already recorded.
	ExtractSkipped ExtractStatus = "skipped"
)
