package queue

import (
	"time"
)

// Kind discriminates the units of work carried by the queue.
type Kind string

const (
	// KindProcess clones/updates a dataset URL's cache.
	KindProcess Kind = "process"
	// KindExtract runs a named extractor against a cached clone.
	KindExtract Kind = "extract"
	// KindCheck checks a processed URL for upstream changes.
	KindCheck Kind = "check"
)

// IsValid reports whether k is a known task kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindProcess, KindExtract, KindCheck:
		return true
	}
	return false
}

// Task is a queued unit of work.
type Task struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	URLID      int64     `json:"url_id"`
	Extractor  string    `json:"extractor,omitempty"`
	Requested  bool      `json:"requested,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ConsumedTask is a task read from the queue, pending acknowledgement.
type ConsumedTask struct {
	MessageID string
	Task      *Task
}
