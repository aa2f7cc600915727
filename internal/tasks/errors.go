// Package tasks implements the units of work pulled from the queue:
// processing a dataset URL, extracting metadata from its cached clone, and
// checking a processed URL for upstream changes. Every task tolerates being
// invoked twice for the same unit of work; the queue acks only after
// completion.
package tasks

import "errors"

// ErrNoMetadataProduced is returned when an extractor produces no result
// entries at all.
var ErrNoMetadataProduced = errors.New("extractor produced no metadata")

// ErrNoValidMetadata is returned when an extractor produces result entries
// but none with an "ok" status.
var ErrNoValidMetadata = errors.New("extractor produced no valid metadata")
