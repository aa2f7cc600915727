// Package dataset wraps the dataset-versioning toolkit: cloning remote
// dataset repositories, reading repository statistics, and running metadata
// extractors against local clones.
package dataset

import (
	"context"
	"errors"
)

// ErrClone is returned when the remote is unreachable, malformed, or the
// clone does not yield a usable dataset. Clone failures are transient and
// retried by the processing task; check with errors.Is().
var ErrClone = errors.New("failed to clone dataset")

// Snapshot is a handle to a local clone of a dataset.
type Snapshot struct {
	// Path is the absolute path of the clone on disk.
	Path string
}

// RepoInfo holds the statistics read from a dataset clone.
// Reading it never mutates the clone.
type RepoInfo struct {
	DatasetID         *string
	AnnexUUID         *string
	AnnexKeyCount     *int64
	AnnexedFilesCount *int64
	AnnexedFilesSize  *int64
	GitObjectsKB      int64
	Head              string
	HeadDescribe      string
	Branches          map[string]any
	Tags              map[string]any
}

// Toolkit is the dataset-versioning capability consumed by the tasks.
type Toolkit interface {
	// Clone copies the dataset at url into dest, which must already exist
	// as an empty directory. Failures are reported as ErrClone.
	Clone(ctx context.Context, url, dest string) (*Snapshot, error)

	// Info reads repository statistics from a clone.
	Info(ctx context.Context, snap *Snapshot) (*RepoInfo, error)

	// Version returns the current head version of the clone at path.
	Version(ctx context.Context, path string) (string, error)

	// RemoteHead returns the head version advertised by the remote at url
	// without cloning. Failures are reported as ErrClone.
	RemoteHead(ctx context.Context, url string) (string, error)
}

// ExtractedRecord is the payload of a successful extractor result.
type ExtractedRecord struct {
	ExtractorName        string         `json:"extractor_name"`
	ExtractorVersion     string         `json:"extractor_version"`
	DatasetVersion       string         `json:"dataset_version"`
	ExtractionParameters map[string]any `json:"extraction_parameter"`
	ExtractedMetadata    map[string]any `json:"extracted_metadata"`
}

// ExtractResult is a single entry produced by an extractor invocation.
// Entries with a status other than "ok" carry no usable payload.
type ExtractResult struct {
	Status         string           `json:"status"`
	MetadataRecord *ExtractedRecord `json:"metadata_record,omitempty"`
}

// ResultStatusOK marks an extractor result whose payload is persisted.
const ResultStatusOK = "ok"

// Extractor runs named metadata extractors against dataset clones.
type Extractor interface {
	// Extract runs the named extractor against the clone at path and
	// returns its result entries.
	Extract(ctx context.Context, name, path string) ([]ExtractResult, error)

	// RequiredFiles returns the dataset-relative files the named extractor
	// needs, or nil when it has no such requirement.
	RequiredFiles(name string) []string
}
