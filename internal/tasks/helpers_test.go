package tasks_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/dataset"
)

// datasetURLColumns mirrors the dataset_urls SELECT column list.
var datasetURLColumns = []string{
	"id", "url", "dataset_id", "annex_uuid", "processed", "cache_path",
	"annex_key_count", "annexed_files_count", "annexed_files_size", "git_objects_kb",
	"head", "head_describe", "branches", "tags",
	"last_updated_at", "check_requested_at", "last_checked_at", "failed_check_count",
	"created_at",
}

// urlRow describes a dataset_urls row for test setup.
type urlRow struct {
	id               int64
	url              string
	processed        bool
	cachePath        *string
	head             *string
	headDescribe     *string
	checkRequestedAt *time.Time
	lastCheckedAt    *time.Time
}

func (r urlRow) rows() *sqlmock.Rows {
	return sqlmock.NewRows(datasetURLColumns).AddRow(
		r.id, r.url, nil, nil, r.processed, r.cachePath,
		nil, nil, nil, nil,
		r.head, r.headDescribe, []byte("{}"), []byte("{}"),
		nil, r.checkRequestedAt, r.lastCheckedAt, 0,
		time.Now(),
	)
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	return sqlx.NewDb(mockDB, "postgres"), mock, func() { mockDB.Close() }
}

func newRepos(t *testing.T) (
	*database.DatasetURLRepository, *database.URLMetadataRepository, sqlmock.Sqlmock, func(),
) {
	t.Helper()

	db, mock, cleanup := newMockDB(t)
	return database.NewDatasetURLRepository(db), database.NewURLMetadataRepository(db), mock, cleanup
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func strPtr(s string) *string { return &s }

func timePtr(tm time.Time) *time.Time { return &tm }

// fakeToolkit implements dataset.Toolkit with per-call hooks.
type fakeToolkit struct {
	cloneFn      func(ctx context.Context, url, dest string) (*dataset.Snapshot, error)
	infoFn       func(ctx context.Context, snap *dataset.Snapshot) (*dataset.RepoInfo, error)
	versionFn    func(ctx context.Context, path string) (string, error)
	remoteHeadFn func(ctx context.Context, url string) (string, error)

	remoteHeadCalls int
}

func (f *fakeToolkit) Clone(ctx context.Context, url, dest string) (*dataset.Snapshot, error) {
	if f.cloneFn == nil {
		return &dataset.Snapshot{Path: dest}, nil
	}
	return f.cloneFn(ctx, url, dest)
}

func (f *fakeToolkit) Info(ctx context.Context, snap *dataset.Snapshot) (*dataset.RepoInfo, error) {
	if f.infoFn == nil {
		return &dataset.RepoInfo{
			Head:         "abc123",
			HeadDescribe: "0.1.0",
			Branches:     map[string]any{},
			Tags:         map[string]any{},
		}, nil
	}
	return f.infoFn(ctx, snap)
}

func (f *fakeToolkit) Version(ctx context.Context, path string) (string, error) {
	if f.versionFn == nil {
		return "abc123", nil
	}
	return f.versionFn(ctx, path)
}

func (f *fakeToolkit) RemoteHead(ctx context.Context, url string) (string, error) {
	f.remoteHeadCalls++
	if f.remoteHeadFn == nil {
		return "abc123", nil
	}
	return f.remoteHeadFn(ctx, url)
}

// fakeExtractor implements dataset.Extractor.
type fakeExtractor struct {
	results       []dataset.ExtractResult
	err           error
	requiredFiles []string

	extractCalls int
}

func (f *fakeExtractor) Extract(_ context.Context, _, _ string) ([]dataset.ExtractResult, error) {
	f.extractCalls++
	return f.results, f.err
}

func (f *fakeExtractor) RequiredFiles(_ string) []string {
	return f.requiredFiles
}

// fakeEnqueuer records enqueued processing tasks.
type fakeEnqueuer struct {
	enqueued []int64
	err      error
}

func (f *fakeEnqueuer) EnqueueProcess(_ context.Context, urlID int64) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, urlID)
	return nil
}
