package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/goregistry/internal/api"
	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/logger"
	"github.com/jonesrussell/goregistry/internal/registry"
)

var datasetURLColumns = []string{
	"id", "url", "dataset_id", "annex_uuid", "processed", "cache_path",
	"annex_key_count", "annexed_files_count", "annexed_files_size", "git_objects_kb",
	"head", "head_describe", "branches", "tags",
	"last_updated_at", "check_requested_at", "last_checked_at", "failed_check_count",
	"created_at",
}

var urlMetadataColumns = []string{
	"id", "dataset_url_id", "extractor_name", "extractor_version",
	"dataset_version", "dataset_describe", "extraction_parameters", "extracted_metadata",
	"created_at",
}

func datasetURLRow(id int64, url string) *sqlmock.Rows {
	return sqlmock.NewRows(datasetURLColumns).AddRow(
		id, url, nil, nil, false, nil,
		nil, nil, nil, nil,
		nil, nil, []byte("{}"), []byte("{}"),
		nil, nil, nil, 0,
		time.Now(),
	)
}

type noopEnqueuer struct{}

func (noopEnqueuer) EnqueueProcess(_ context.Context, _ int64) error { return nil }

func newTestRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db := sqlx.NewDb(mockDB, "postgres")
	service := registry.NewService(
		database.NewDatasetURLRepository(db),
		database.NewURLMetadataRepository(db),
		noopEnqueuer{},
		logger.NewNoOp(),
	)
	handler := api.NewHandler(service, logger.NewNoOp())
	router := api.NewRouter(handler, logger.NewNoOp())

	return router, mock, func() { mockDB.Close() }
}

func TestSubmitURL_Created(t *testing.T) {
	router, mock, cleanup := newTestRouter(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO dataset_urls").
		WithArgs("https://example.com/ds").
		WillReturnRows(datasetURLRow(1, "https://example.com/ds"))

	req := httptest.NewRequest(
		http.MethodPost, "/api/v1/urls",
		strings.NewReader(`{"url":"https://example.com/ds"}`),
	)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"url":"https://example.com/ds"`)
}

func TestSubmitURL_MissingBody(t *testing.T) {
	router, _, cleanup := newTestRouter(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/urls", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitURL_UnsupportedScheme(t *testing.T) {
	router, _, cleanup := newTestRouter(t)
	defer cleanup()

	req := httptest.NewRequest(
		http.MethodPost, "/api/v1/urls",
		strings.NewReader(`{"url":"ftp://example.com/ds"}`),
	)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetURL_NotFound(t *testing.T) {
	router, mock, cleanup := newTestRouter(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM dataset_urls WHERE id").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(datasetURLColumns))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/urls/42", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetURL_InvalidID(t *testing.T) {
	router, _, cleanup := newTestRouter(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/urls/abc", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListURLs(t *testing.T) {
	router, mock, cleanup := newTestRouter(t)
	defer cleanup()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM dataset_urls").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT (.+) FROM dataset_urls").
		WillReturnRows(datasetURLRow(1, "https://example.com/ds"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/urls", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestListURLs_InvalidProcessedFilter(t *testing.T) {
	router, _, cleanup := newTestRouter(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/urls?processed=banana", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestCheck_Accepted(t *testing.T) {
	router, mock, cleanup := newTestRouter(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT processed, check_requested_at FROM dataset_urls").
		WithArgs(int64(3)).
		WillReturnRows(
			sqlmock.NewRows([]string{"processed", "check_requested_at"}).AddRow(true, nil),
		)
	mock.ExpectExec("UPDATE dataset_urls SET check_requested_at = NOW()").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/urls/3/check", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRequestCheck_AlreadyPending(t *testing.T) {
	router, mock, cleanup := newTestRouter(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT processed, check_requested_at FROM dataset_urls").
		WithArgs(int64(3)).
		WillReturnRows(
			sqlmock.NewRows([]string{"processed", "check_requested_at"}).
				AddRow(true, time.Now()),
		)
	mock.ExpectCommit()

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/urls/3/check", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestCheck_NotProcessed(t *testing.T) {
	router, mock, cleanup := newTestRouter(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT processed, check_requested_at FROM dataset_urls").
		WithArgs(int64(3)).
		WillReturnRows(
			sqlmock.NewRows([]string{"processed", "check_requested_at"}).AddRow(false, nil),
		)
	mock.ExpectRollback()

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/urls/3/check", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetMetadata(t *testing.T) {
	router, mock, cleanup := newTestRouter(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM dataset_urls WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(datasetURLRow(1, "https://example.com/ds"))
	mock.ExpectQuery("SELECT (.+) FROM url_metadata").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(urlMetadataColumns).AddRow(
			1, int64(1), "bids_dataset", "0.10.1",
			"abc123", nil, []byte("{}"), []byte(`{"name":"demo"}`),
			time.Now(),
		))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/urls/1/metadata", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"extractor_name":"bids_dataset"`)
}

func TestDeleteURL(t *testing.T) {
	router, mock, cleanup := newTestRouter(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM dataset_urls").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/urls/1", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealth(t *testing.T) {
	router, _, cleanup := newTestRouter(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
