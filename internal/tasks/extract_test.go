package tasks_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/dataset"
	"github.com/jonesrussell/goregistry/internal/domain"
	"github.com/jonesrussell/goregistry/internal/logger"
	"github.com/jonesrussell/goregistry/internal/tasks"
)

// urlMetadataColumns mirrors the url_metadata SELECT column list.
var urlMetadataColumns = []string{
	"id", "dataset_url_id", "extractor_name", "extractor_version",
	"dataset_version", "dataset_describe", "extraction_parameters", "extracted_metadata",
	"created_at",
}

// newCachedClone creates a cache directory with the given files present and
// returns the base dir and the relative cache path.
func newCachedClone(t *testing.T, files ...string) (baseDir, cachePath string) {
	t.Helper()

	baseDir = t.TempDir()
	cachePath = filepath.Join("abc", "def", "token")
	cloneDir := filepath.Join(baseDir, cachePath)
	if err := os.MkdirAll(cloneDir, 0o750); err != nil {
		t.Fatal(err)
	}
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(cloneDir, file), []byte("{}"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return baseDir, cachePath
}

func okResult(name, version string) dataset.ExtractResult {
	return dataset.ExtractResult{
		Status: dataset.ResultStatusOK,
		MetadataRecord: &dataset.ExtractedRecord{
			ExtractorName:        name,
			ExtractorVersion:     "1.0.0",
			DatasetVersion:       version,
			ExtractionParameters: map[string]any{},
			ExtractedMetadata:    map[string]any{"name": "demo"},
		},
	}
}

func TestMetaExtractor_Extract_Succeeds(t *testing.T) {
	urls, metadata, mock, cleanup := newRepos(t)
	defer cleanup()

	baseDir, cachePath := newCachedClone(t, "dataset_description.json")
	runner := &fakeExtractor{
		results:       []dataset.ExtractResult{okResult("bids_dataset", "abc123")},
		requiredFiles: []string{"dataset_description.json"},
	}

	mock.ExpectQuery("SELECT (.+) FROM dataset_urls WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(urlRow{
			id: 1, url: "https://example.com/ds",
			processed: true, cachePath: &cachePath,
			head: strPtr("abc123"), headDescribe: strPtr("0.1.0"),
		}.rows())

	// No prior records for this extractor.
	mock.ExpectQuery("SELECT (.+) FROM url_metadata").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(urlMetadataColumns))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO url_metadata").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	extractor := tasks.NewMetaExtractor(
		urls, metadata, &fakeToolkit{}, runner, baseDir, logger.NewNoOp(),
	)

	status, err := extractor.Extract(context.Background(), 1, "bids_dataset")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if status != domain.ExtractSucceeded {
		t.Errorf("Extract() status = %s, want %s", status, domain.ExtractSucceeded)
	}

	expectationsMet(t, mock)
}

func TestMetaExtractor_Extract_AbortsOnMissingRequiredFile(t *testing.T) {
	urls, metadata, mock, cleanup := newRepos(t)
	defer cleanup()

	baseDir, cachePath := newCachedClone(t) // no required file
	runner := &fakeExtractor{requiredFiles: []string{"dataset_description.json"}}

	mock.ExpectQuery("SELECT (.+) FROM dataset_urls WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(urlRow{
			id: 1, url: "https://example.com/ds",
			processed: true, cachePath: &cachePath,
		}.rows())

	extractor := tasks.NewMetaExtractor(
		urls, metadata, &fakeToolkit{}, runner, baseDir, logger.NewNoOp(),
	)

	status, err := extractor.Extract(context.Background(), 1, "bids_dataset")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if status != domain.ExtractAborted {
		t.Errorf("Extract() status = %s, want %s", status, domain.ExtractAborted)
	}
	if runner.extractCalls != 0 {
		t.Errorf("extractor ran %d times, want 0", runner.extractCalls)
	}

	expectationsMet(t, mock)
}

func TestMetaExtractor_Extract_SkipsWhenVersionRecorded(t *testing.T) {
	urls, metadata, mock, cleanup := newRepos(t)
	defer cleanup()

	baseDir, cachePath := newCachedClone(t)
	runner := &fakeExtractor{results: []dataset.ExtractResult{okResult("bids_dataset", "abc123")}}

	mock.ExpectQuery("SELECT (.+) FROM dataset_urls WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(urlRow{
			id: 1, url: "https://example.com/ds",
			processed: true, cachePath: &cachePath,
		}.rows())

	// Stored record already covers the clone's current version.
	mock.ExpectQuery("SELECT (.+) FROM url_metadata").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(urlMetadataColumns).AddRow(
			3, int64(1), "bids_dataset", "1.0.0",
			"abc123", nil, []byte("{}"), []byte("{}"),
			time.Now(),
		))

	extractor := tasks.NewMetaExtractor(
		urls, metadata, &fakeToolkit{}, runner, baseDir, logger.NewNoOp(),
	)

	status, err := extractor.Extract(context.Background(), 1, "bids_dataset")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if status != domain.ExtractSkipped {
		t.Errorf("Extract() status = %s, want %s", status, domain.ExtractSkipped)
	}
	if runner.extractCalls != 0 {
		t.Errorf("extractor ran %d times, want 0", runner.extractCalls)
	}

	expectationsMet(t, mock)
}

func TestMetaExtractor_Extract_ReplacesStaleRecord(t *testing.T) {
	urls, metadata, mock, cleanup := newRepos(t)
	defer cleanup()

	baseDir, cachePath := newCachedClone(t)
	runner := &fakeExtractor{results: []dataset.ExtractResult{okResult("bids_dataset", "def456")}}
	toolkit := &fakeToolkit{
		versionFn: func(_ context.Context, _ string) (string, error) { return "def456", nil },
	}

	mock.ExpectQuery("SELECT (.+) FROM dataset_urls WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(urlRow{
			id: 1, url: "https://example.com/ds",
			processed: true, cachePath: &cachePath,
		}.rows())

	// Stored record covers an older version.
	mock.ExpectQuery("SELECT (.+) FROM url_metadata").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(urlMetadataColumns).AddRow(
			3, int64(1), "bids_dataset", "1.0.0",
			"abc123", nil, []byte("{}"), []byte("{}"),
			time.Now(),
		))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM url_metadata WHERE id = ANY").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO url_metadata").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	extractor := tasks.NewMetaExtractor(urls, metadata, toolkit, runner, baseDir, logger.NewNoOp())

	status, err := extractor.Extract(context.Background(), 1, "bids_dataset")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if status != domain.ExtractSucceeded {
		t.Errorf("Extract() status = %s, want %s", status, domain.ExtractSucceeded)
	}

	expectationsMet(t, mock)
}

func TestMetaExtractor_Extract_NoMetadataProduced(t *testing.T) {
	urls, metadata, mock, cleanup := newRepos(t)
	defer cleanup()

	baseDir, cachePath := newCachedClone(t)
	runner := &fakeExtractor{} // produces nothing

	mock.ExpectQuery("SELECT (.+) FROM dataset_urls WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(urlRow{
			id: 1, url: "https://example.com/ds",
			processed: true, cachePath: &cachePath,
		}.rows())
	mock.ExpectQuery("SELECT (.+) FROM url_metadata").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(urlMetadataColumns))

	extractor := tasks.NewMetaExtractor(
		urls, metadata, &fakeToolkit{}, runner, baseDir, logger.NewNoOp(),
	)

	_, err := extractor.Extract(context.Background(), 1, "bids_dataset")
	if !errors.Is(err, tasks.ErrNoMetadataProduced) {
		t.Errorf("Extract() error = %v, want ErrNoMetadataProduced", err)
	}

	expectationsMet(t, mock)
}

func TestMetaExtractor_Extract_NoValidMetadata(t *testing.T) {
	urls, metadata, mock, cleanup := newRepos(t)
	defer cleanup()

	baseDir, cachePath := newCachedClone(t)
	runner := &fakeExtractor{
		results: []dataset.ExtractResult{{Status: "error"}},
	}

	mock.ExpectQuery("SELECT (.+) FROM dataset_urls WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(urlRow{
			id: 1, url: "https://example.com/ds",
			processed: true, cachePath: &cachePath,
		}.rows())
	mock.ExpectQuery("SELECT (.+) FROM url_metadata").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(urlMetadataColumns))

	extractor := tasks.NewMetaExtractor(
		urls, metadata, &fakeToolkit{}, runner, baseDir, logger.NewNoOp(),
	)

	_, err := extractor.Extract(context.Background(), 1, "bids_dataset")
	if !errors.Is(err, tasks.ErrNoValidMetadata) {
		t.Errorf("Extract() error = %v, want ErrNoValidMetadata", err)
	}

	expectationsMet(t, mock)
}

func TestMetaExtractor_Extract_UnprocessedURL(t *testing.T) {
	urls, metadata, mock, cleanup := newRepos(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM dataset_urls WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(urlRow{id: 1, url: "https://example.com/ds"}.rows())

	extractor := tasks.NewMetaExtractor(
		urls, metadata, &fakeToolkit{}, &fakeExtractor{}, t.TempDir(), logger.NewNoOp(),
	)

	_, err := extractor.Extract(context.Background(), 1, "bids_dataset")
	if !errors.Is(err, database.ErrNotProcessed) {
		t.Errorf("Extract() error = %v, want ErrNotProcessed", err)
	}

	expectationsMet(t, mock)
}
