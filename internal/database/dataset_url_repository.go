package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/goregistry/internal/domain"
)

// Dataset URL repository constants.
const (
	defaultListLimit  = 50
	defaultListSortBy = "id"

	// datasetURLColumns lists columns for SELECT queries on dataset_urls.
	datasetURLColumns = `id, url, dataset_id, annex_uuid, processed, cache_path,
		annex_key_count, annexed_files_count, annexed_files_size, git_objects_kb,
		head, head_describe, branches, tags,
		last_updated_at, check_requested_at, last_checked_at, failed_check_count,
		created_at`
)

// DatasetURLRepository handles database operations for tracked dataset URLs.
type DatasetURLRepository struct {
	db *sqlx.DB
}

// NewDatasetURLRepository creates a new dataset URL repository.
func NewDatasetURLRepository(db *sqlx.DB) *DatasetURLRepository {
	return &DatasetURLRepository{db: db}
}

// Create inserts a new dataset URL row and returns it. When another submission
// of the same URL wins the insert race, the unique violation is resolved by
// re-querying and returning the existing row with created=false. A re-query
// failure after a detected duplicate is surfaced as-is.
func (r *DatasetURLRepository) Create(ctx context.Context, url string) (*domain.DatasetURL, bool, error) {
	query := `
		INSERT INTO dataset_urls (url)
		VALUES ($1)
		RETURNING ` + datasetURLColumns

	var row domain.DatasetURL
	err := r.db.GetContext(ctx, &row, query, url)
	if err == nil {
		return &row, true, nil
	}

	if !isUniqueViolation(err) {
		return nil, false, fmt.Errorf("failed to insert dataset URL: %w", err)
	}

	existing, getErr := r.GetByURL(ctx, url)
	if getErr != nil {
		return nil, false, fmt.Errorf("failed to resolve duplicate dataset URL %q: %w", url, getErr)
	}

	return existing, false, nil
}

// GetByID returns the dataset URL row with the given id.
// Returns ErrNotFound if no such row exists.
func (r *DatasetURLRepository) GetByID(ctx context.Context, id int64) (*domain.DatasetURL, error) {
	query := `SELECT ` + datasetURLColumns + ` FROM dataset_urls WHERE id = $1`

	var row domain.DatasetURL
	err := r.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dataset URL: %w", err)
	}

	return &row, nil
}

// GetByURL returns the dataset URL row with the given remote URL.
// Returns ErrNotFound if no such row exists.
func (r *DatasetURLRepository) GetByURL(ctx context.Context, url string) (*domain.DatasetURL, error) {
	query := `SELECT ` + datasetURLColumns + ` FROM dataset_urls WHERE url = $1`

	var row domain.DatasetURL
	err := r.db.GetContext(ctx, &row, query, url)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dataset URL by URL: %w", err)
	}

	return &row, nil
}

// MarkForCheck sets check_requested_at on a processed dataset URL if it is not
// already set. Returns true when the request timestamp was newly set and false
// when an earlier request is still pending (a no-op).
func (r *DatasetURLRepository) MarkForCheck(ctx context.Context, id int64) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin mark-for-check transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var row struct {
		Processed        bool       `db:"processed"`
		CheckRequestedAt *time.Time `db:"check_requested_at"`
	}
	selectQuery := `SELECT processed, check_requested_at FROM dataset_urls WHERE id = $1 FOR UPDATE`
	if selectErr := tx.GetContext(ctx, &row, selectQuery, id); selectErr != nil {
		if errors.Is(selectErr, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to select dataset URL for check request: %w", selectErr)
	}

	if !row.Processed {
		return false, ErrNotProcessed
	}

	if row.CheckRequestedAt != nil {
		// An earlier request is still pending; nothing to do.
		return false, tx.Commit()
	}

	updateQuery := `UPDATE dataset_urls SET check_requested_at = NOW() WHERE id = $1`
	if _, updateErr := tx.ExecContext(ctx, updateQuery, id); updateErr != nil {
		return false, fmt.Errorf("failed to set check request timestamp: %w", updateErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return false, fmt.Errorf("failed to commit check request: %w", commitErr)
	}

	return true, nil
}

// CommitSnapshot atomically marks a dataset URL processed, overwrites all of
// its snapshot fields and cache path, and stamps last_updated_at. It returns
// the previous cache path (nil on first processing) so the caller can remove
// the superseded clone after the commit.
func (r *DatasetURLRepository) CommitSnapshot(
	ctx context.Context, id int64, snap domain.Snapshot,
) (*string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var oldCachePath *string
	selectQuery := `SELECT cache_path FROM dataset_urls WHERE id = $1 FOR UPDATE`
	if selectErr := tx.GetContext(ctx, &oldCachePath, selectQuery, id); selectErr != nil {
		if errors.Is(selectErr, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock dataset URL for snapshot: %w", selectErr)
	}

	updateQuery := `
		UPDATE dataset_urls
		SET processed = TRUE,
			dataset_id = $1,
			annex_uuid = $2,
			annex_key_count = $3,
			annexed_files_count = $4,
			annexed_files_size = $5,
			git_objects_kb = $6,
			head = $7,
			head_describe = $8,
			branches = $9,
			tags = $10,
			cache_path = $11,
			last_updated_at = NOW()
		WHERE id = $12
	`
	_, updateErr := tx.ExecContext(
		ctx, updateQuery,
		snap.DatasetID, snap.AnnexUUID,
		snap.AnnexKeyCount, snap.AnnexedFilesCount, snap.AnnexedFilesSize,
		snap.GitObjectsKB, snap.Head, snap.HeadDescribe,
		snap.Branches, snap.Tags,
		snap.CachePath, id,
	)
	if updateErr != nil {
		return nil, fmt.Errorf("failed to update dataset URL snapshot: %w", updateErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("failed to commit dataset URL snapshot: %w", commitErr)
	}

	return oldCachePath, nil
}

// SelectRequested selects and briefly locks all dataset URLs with a pending
// check request that have not failed too many checks, skipping rows locked by
// a concurrent dispatcher tick. Rows are ordered oldest request first. The
// locks are released when the selection transaction commits; the dispatcher
// enqueues work afterwards.
func (r *DatasetURLRepository) SelectRequested(
	ctx context.Context, maxFailedChecks int,
) ([]*domain.DatasetURL, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin requested-URL selection: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	query := `
		SELECT ` + datasetURLColumns + `
		FROM dataset_urls
		WHERE check_requested_at IS NOT NULL
		  AND failed_check_count <= $1
		ORDER BY check_requested_at ASC, id ASC
		FOR UPDATE SKIP LOCKED
	`

	var rows []*domain.DatasetURL
	if selectErr := tx.SelectContext(ctx, &rows, query, maxFailedChecks); selectErr != nil {
		return nil, fmt.Errorf("failed to select requested dataset URLs: %w", selectErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("failed to commit requested-URL selection: %w", commitErr)
	}

	return rows, nil
}

// SelectStale selects up to limit processed dataset URLs without a pending
// check request whose last activity (check or update) predates cutoff, oldest
// activity first, skipping rows locked by a concurrent dispatcher tick.
func (r *DatasetURLRepository) SelectStale(
	ctx context.Context, maxFailedChecks int, cutoff time.Time, limit int,
) ([]*domain.DatasetURL, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin stale-URL selection: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	query := `
		SELECT ` + datasetURLColumns + `
		FROM dataset_urls
		WHERE processed
		  AND check_requested_at IS NULL
		  AND failed_check_count <= $1
		  AND COALESCE(last_checked_at, last_updated_at) <= $2
		ORDER BY COALESCE(last_checked_at, last_updated_at) ASC, id ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`

	var rows []*domain.DatasetURL
	if selectErr := tx.SelectContext(ctx, &rows, query, maxFailedChecks, cutoff, limit); selectErr != nil {
		return nil, fmt.Errorf("failed to select stale dataset URLs: %w", selectErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("failed to commit stale-URL selection: %w", commitErr)
	}

	return rows, nil
}

// CheckClaim is an exclusive row lock on a dataset URL held for the duration
// of a per-URL check. Exactly one of Succeed, Fail or Release must be called.
type CheckClaim struct {
	URL *domain.DatasetURL

	tx *sqlx.Tx
	id int64
}

// ClaimForCheck acquires an exclusive row lock on the dataset URL, blocking
// until any concurrent check of the same URL completes.
// Returns ErrNotFound if no such row exists.
func (r *DatasetURLRepository) ClaimForCheck(ctx context.Context, id int64) (*CheckClaim, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin check transaction: %w", err)
	}

	query := `SELECT ` + datasetURLColumns + ` FROM dataset_urls WHERE id = $1 FOR UPDATE`

	var row domain.DatasetURL
	if selectErr := tx.GetContext(ctx, &row, query, id); selectErr != nil {
		_ = tx.Rollback()
		if errors.Is(selectErr, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock dataset URL for check: %w", selectErr)
	}

	return &CheckClaim{URL: &row, tx: tx, id: id}, nil
}

// Succeed records a completed check, stamping last_checked_at and clearing the
// pending check request when clearRequest is set, then releases the row lock.
func (c *CheckClaim) Succeed(ctx context.Context, clearRequest bool) error {
	var query string
	if clearRequest {
		query = `UPDATE dataset_urls SET last_checked_at = NOW(), check_requested_at = NULL WHERE id = $1`
	} else {
		query = `UPDATE dataset_urls SET last_checked_at = NOW() WHERE id = $1`
	}

	if _, err := c.tx.ExecContext(ctx, query, c.id); err != nil {
		_ = c.tx.Rollback()
		return fmt.Errorf("failed to record check completion: %w", err)
	}

	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit check completion: %w", err)
	}
	return nil
}

// Fail records a failed check attempt. The check request is left set so the
// URL is retried, capped by the dispatcher's failed-check limit.
func (c *CheckClaim) Fail(ctx context.Context) error {
	query := `
		UPDATE dataset_urls
		SET last_checked_at = NOW(),
			failed_check_count = failed_check_count + 1
		WHERE id = $1
	`

	if _, err := c.tx.ExecContext(ctx, query, c.id); err != nil {
		_ = c.tx.Rollback()
		return fmt.Errorf("failed to record check failure: %w", err)
	}

	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit check failure: %w", err)
	}
	return nil
}

// Release drops the row lock without recording anything.
func (c *CheckClaim) Release() error {
	return c.tx.Rollback()
}

// Filters represents filtering options for listing dataset URLs.
type Filters struct {
	Processed *bool
	DatasetID string
	Search    string // URL contains
	SortBy    string
	Limit     int
	Offset    int
}

// List returns dataset URLs with pagination and filtering (for the query API).
func (r *DatasetURLRepository) List(ctx context.Context, filters Filters) ([]*domain.DatasetURL, int, error) {
	whereClause, args := buildDatasetURLWhere(filters)

	count, countErr := r.countDatasetURLs(ctx, whereClause, args)
	if countErr != nil {
		return nil, 0, countErr
	}

	urls, listErr := r.selectDatasetURLs(ctx, filters, whereClause, args)
	if listErr != nil {
		return nil, 0, listErr
	}

	return urls, count, nil
}

// buildDatasetURLWhere builds the WHERE clause and args for list queries.
func buildDatasetURLWhere(filters Filters) (whereClause string, args []any) {
	var conditions []string
	args = []any{}
	argIndex := 1

	if filters.Processed != nil {
		conditions = append(conditions, fmt.Sprintf("processed = $%d", argIndex))
		args = append(args, *filters.Processed)
		argIndex++
	}

	if filters.DatasetID != "" {
		conditions = append(conditions, fmt.Sprintf("dataset_id = $%d", argIndex))
		args = append(args, filters.DatasetID)
		argIndex++
	}

	if filters.Search != "" {
		conditions = append(conditions, fmt.Sprintf("url ILIKE $%d", argIndex))
		args = append(args, "%"+filters.Search+"%")
	}

	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}
	return whereClause, args
}

// countDatasetURLs returns the total count of rows matching the WHERE clause.
func (r *DatasetURLRepository) countDatasetURLs(ctx context.Context, whereClause string, args []any) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM dataset_urls %s", whereClause)

	err := r.db.GetContext(ctx, &count, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to count dataset URLs: %w", err)
	}

	return count, nil
}

// selectDatasetURLs returns dataset URLs with sorting and pagination.
func (r *DatasetURLRepository) selectDatasetURLs(
	ctx context.Context,
	filters Filters,
	whereClause string,
	args []any,
) ([]*domain.DatasetURL, error) {
	argIndex := len(args) + 1

	sortBy := filters.SortBy
	switch sortBy {
	case "url", "last_updated_at", "created_at", defaultListSortBy:
	default:
		sortBy = defaultListSortBy
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM dataset_urls
		%s
		ORDER BY %s ASC
		LIMIT $%d OFFSET $%d
	`, datasetURLColumns, whereClause, sortBy, argIndex, argIndex+1)

	args = append(args, limit, offset)

	var urls []*domain.DatasetURL
	err := r.db.SelectContext(ctx, &urls, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset URLs: %w", err)
	}

	if urls == nil {
		urls = []*domain.DatasetURL{}
	}

	return urls, nil
}

// Delete removes a dataset URL by id; metadata records cascade.
// Returns ErrNotFound if the row does not exist.
func (r *DatasetURLRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM dataset_urls WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)

	return execRequireRows(result, err, ErrNotFound)
}
