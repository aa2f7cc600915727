// Package registry provides the dataset URL registry service used by the API.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/domain"
	"github.com/jonesrussell/goregistry/internal/logger"
)

// Service errors.
var (
	// ErrInvalidURL indicates the submitted URL could not be accepted.
	ErrInvalidURL = errors.New("invalid dataset URL")
)

// ProcessEnqueuer enqueues processing tasks for newly registered URLs.
type ProcessEnqueuer interface {
	EnqueueProcess(ctx context.Context, urlID int64) error
}

// Service coordinates dataset URL registration, check requests and queries.
type Service struct {
	urls      *database.DatasetURLRepository
	metadata  *database.URLMetadataRepository
	processes ProcessEnqueuer
	logger    logger.Interface
}

// NewService creates a new registry service.
func NewService(
	urls *database.DatasetURLRepository,
	metadata *database.URLMetadataRepository,
	processes ProcessEnqueuer,
	log logger.Interface,
) *Service {
	return &Service{
		urls:      urls,
		metadata:  metadata,
		processes: processes,
		logger:    log,
	}
}

// Submit registers a dataset URL for tracking. Re-submitting a known URL is a
// no-op returning the existing row with created=false; a processing task is
// enqueued only for newly created rows.
func (s *Service) Submit(ctx context.Context, rawURL string) (*domain.DatasetURL, bool, error) {
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return nil, false, err
	}

	row, created, err := s.urls.Create(ctx, normalized)
	if err != nil {
		return nil, false, fmt.Errorf("failed to register dataset URL: %w", err)
	}

	if !created {
		s.logger.Debug("dataset URL already registered", "url", normalized, "url_id", row.ID)
		return row, false, nil
	}

	s.logger.Info("dataset URL registered", "url", normalized, "url_id", row.ID)

	if enqErr := s.processes.EnqueueProcess(ctx, row.ID); enqErr != nil {
		// The row exists either way; a later check request can recover it.
		s.logger.Error("failed to enqueue processing",
			"url_id", row.ID,
			"error", enqErr,
		)
		return row, true, fmt.Errorf("failed to enqueue processing: %w", enqErr)
	}

	return row, true, nil
}

// RequestCheck marks a processed dataset URL for an expedited check. Returns
// true when the request was newly recorded and false when an earlier request
// is still pending.
func (s *Service) RequestCheck(ctx context.Context, id int64) (bool, error) {
	marked, err := s.urls.MarkForCheck(ctx, id)
	if err != nil {
		return false, err
	}

	if marked {
		s.logger.Info("check requested", "url_id", id)
	}

	return marked, nil
}

// Get returns the dataset URL with the given id.
func (s *Service) Get(ctx context.Context, id int64) (*domain.DatasetURL, error) {
	return s.urls.GetByID(ctx, id)
}

// List returns dataset URLs matching the filters plus the total match count.
func (s *Service) List(ctx context.Context, filters database.Filters) ([]*domain.DatasetURL, int, error) {
	return s.urls.List(ctx, filters)
}

// Metadata returns the extracted metadata records for a dataset URL.
// Returns ErrNotFound when the URL itself does not exist.
func (s *Service) Metadata(ctx context.Context, id int64) ([]*domain.URLMetadata, error) {
	if _, err := s.urls.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.metadata.ListForURL(ctx, id)
}

// Delete removes a dataset URL and its metadata records.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.urls.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("dataset URL deleted", "url_id", id)
	return nil
}

// normalizeURL validates a submitted URL and strips surrounding whitespace.
// Accepted schemes cover git-cloneable transports.
func normalizeURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty URL", ErrInvalidURL)
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	switch parsed.Scheme {
	case "http", "https", "ssh", "git", "file":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}

	return trimmed, nil
}
