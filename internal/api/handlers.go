package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/logger"
	"github.com/jonesrussell/goregistry/internal/registry"
)

// Handler serves the registry API endpoints.
type Handler struct {
	service *registry.Service
	logger  logger.Interface
}

// NewHandler creates a new API handler.
func NewHandler(service *registry.Service, log logger.Interface) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

// submitRequest is the body of POST /urls.
type submitRequest struct {
	URL string `json:"url" binding:"required"`
}

// Health reports service liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SubmitURL registers a dataset URL for tracking. Returns 201 with the new
// row, or 200 with the existing row when the URL is already tracked.
func (h *Handler) SubmitURL(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	row, created, err := h.service.Submit(c.Request.Context(), req.URL)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidURL) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if row != nil {
			// Registered but not enqueued; surface the row with a warning.
			h.logger.Error("submit partially failed", "url_id", row.ID, "error", err)
			c.JSON(http.StatusCreated, row)
			return
		}
		h.logger.Error("submit failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register URL"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, row)
}

// ListURLs returns tracked dataset URLs with filtering and pagination.
func (h *Handler) ListURLs(c *gin.Context) {
	filters := database.Filters{
		DatasetID: c.Query("dataset_id"),
		Search:    c.Query("search"),
		SortBy:    c.Query("sort_by"),
	}

	if processed := c.Query("processed"); processed != "" {
		value, err := strconv.ParseBool(processed)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid processed filter"})
			return
		}
		filters.Processed = &value
	}

	filters.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filters.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	urls, total, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		h.logger.Error("list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list URLs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"urls":   urls,
		"total":  total,
		"limit":  filters.Limit,
		"offset": filters.Offset,
	})
}

// GetURL returns one tracked dataset URL.
func (h *Handler) GetURL(c *gin.Context) {
	id, ok := h.urlID(c)
	if !ok {
		return
	}

	row, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, id, err, "failed to get URL")
		return
	}

	c.JSON(http.StatusOK, row)
}

// DeleteURL removes a tracked dataset URL and its metadata.
func (h *Handler) DeleteURL(c *gin.Context) {
	id, ok := h.urlID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, id, err, "failed to delete URL")
		return
	}

	c.Status(http.StatusNoContent)
}

// RequestCheck marks a processed URL for an expedited upstream check.
// Returns 202 when newly requested, 200 when a request was already pending.
func (h *Handler) RequestCheck(c *gin.Context) {
	id, ok := h.urlID(c)
	if !ok {
		return
	}

	marked, err := h.service.RequestCheck(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotProcessed) {
			c.JSON(http.StatusConflict, gin.H{"error": "URL has not been processed yet"})
			return
		}
		h.respondError(c, id, err, "failed to request check")
		return
	}

	if marked {
		c.JSON(http.StatusAccepted, gin.H{"status": "check requested"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "check already pending"})
}

// GetMetadata returns the extracted metadata records for a dataset URL.
func (h *Handler) GetMetadata(c *gin.Context) {
	id, ok := h.urlID(c)
	if !ok {
		return
	}

	records, err := h.service.Metadata(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, id, err, "failed to get metadata")
		return
	}

	c.JSON(http.StatusOK, gin.H{"metadata": records})
}

// urlID parses the :id path parameter, responding 400 on garbage.
func (h *Handler) urlID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid URL id"})
		return 0, false
	}
	return id, true
}

// respondError maps service errors to HTTP responses.
func (h *Handler) respondError(c *gin.Context, id int64, err error, msg string) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "URL not found"})
		return
	}
	h.logger.Error(msg, "url_id", id, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
