package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/domain"
)

// urlMetadataColumns lists the columns returned by metadata SELECT queries.
var urlMetadataColumns = []string{
	"id", "dataset_url_id", "extractor_name", "extractor_version",
	"dataset_version", "dataset_describe", "extraction_parameters", "extracted_metadata",
	"created_at",
}

func newMetadataRepo(t *testing.T) (*database.URLMetadataRepository, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db := sqlx.NewDb(mockDB, "postgres")
	repo := database.NewURLMetadataRepository(db)

	return repo, mock, func() { mockDB.Close() }
}

func TestURLMetadataRepository_ListForURL(t *testing.T) {
	repo, mock, cleanup := newMetadataRepo(t)
	defer cleanup()

	rows := sqlmock.NewRows(urlMetadataColumns).
		AddRow(
			1, int64(5), "bids_dataset", "0.10.1",
			"abc123", "0.1.0-2-gabc123", []byte("{}"), []byte(`{"name":"demo"}`),
			time.Now(),
		)

	mock.ExpectQuery("SELECT (.+) FROM url_metadata").
		WithArgs(int64(5)).
		WillReturnRows(rows)

	records, err := repo.ListForURL(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListForURL() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ListForURL() returned %d records, want 1", len(records))
	}
	if records[0].ExtractorName != "bids_dataset" {
		t.Errorf("ListForURL() extractor = %s", records[0].ExtractorName)
	}
	if records[0].ExtractedMetadata["name"] != "demo" {
		t.Errorf("ListForURL() metadata = %v", records[0].ExtractedMetadata)
	}
}

func TestURLMetadataRepository_ListForURL_Empty(t *testing.T) {
	repo, mock, cleanup := newMetadataRepo(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM url_metadata").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(urlMetadataColumns))

	records, err := repo.ListForURL(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListForURL() error = %v", err)
	}
	if records == nil {
		t.Error("ListForURL() returned nil, want empty slice")
	}
}

func TestURLMetadataRepository_Replace_DeletesStaleThenInserts(t *testing.T) {
	repo, mock, cleanup := newMetadataRepo(t)
	defer cleanup()

	record := &domain.URLMetadata{
		DatasetURLID:         5,
		ExtractorName:        "bids_dataset",
		ExtractorVersion:     "0.10.1",
		DatasetVersion:       "def456",
		ExtractionParameters: domain.JSONBMap{},
		ExtractedMetadata:    domain.JSONBMap{"name": "demo"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM url_metadata WHERE id = ANY").
		WithArgs(pq.Array([]int64{3})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO url_metadata").
		WithArgs(
			int64(5), "bids_dataset", "0.10.1",
			"def456", nil, record.ExtractionParameters, record.ExtractedMetadata,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Replace(context.Background(), []int64{3}, []*domain.URLMetadata{record})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	expectationsMet(t, mock)
}

func TestURLMetadataRepository_Replace_NoStaleRecords(t *testing.T) {
	repo, mock, cleanup := newMetadataRepo(t)
	defer cleanup()

	record := &domain.URLMetadata{
		DatasetURLID:         5,
		ExtractorName:        "datacite_gin",
		ExtractorVersion:     "1.0.0",
		DatasetVersion:       "abc123",
		ExtractionParameters: domain.JSONBMap{},
		ExtractedMetadata:    domain.JSONBMap{"title": "demo"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO url_metadata").
		WithArgs(
			int64(5), "datacite_gin", "1.0.0",
			"abc123", nil, record.ExtractionParameters, record.ExtractedMetadata,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Replace(context.Background(), nil, []*domain.URLMetadata{record})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	expectationsMet(t, mock)
}
