package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cleantext/ocr-pipeline/internal/engine"
	"github.com/cleantext/ocr-pipeline/internal/service/extract"
	"github.com/cleantext/ocr-pipeline/internal/utils/validator"
	"github.com/cleantext/ocr-pipeline/pkg/logger"
	"github.com/cleantext/ocr-pipeline/pkg/queue"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type ExtractHandler struct {
	service extract.Service
	logger  logger.Logger
}

func NewExtractHandler(service extract.Service, log logger.Logger) *ExtractHandler {
	return &ExtractHandler{
		service: service,
		logger:  log,
	}
}

// SubmitBatch accepts a multipart batch under "files" and queues it. The
// optional "force_fallback" field skips the primary engine, which is how a
// client retries a batch on the fallback path.
func (h *ExtractHandler) SubmitBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid form data", err)
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		h.handleError(c, http.StatusBadRequest, "No files provided", nil)
		return
	}

	forceFallback, _ := strconv.ParseBool(c.PostForm("force_fallback"))

	status, err := h.service.SubmitBatch(c.Request.Context(), files, c.ClientIP(), forceFallback)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, status)
}

// GetStatus returns the last reported progress of a batch.
func (h *ExtractHandler) GetStatus(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		h.handleError(c, http.StatusBadRequest, "Task ID is required", nil)
		return
	}

	status, err := h.service.Status(c.Request.Context(), taskID)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetResult returns the assembled extraction result of a finished batch.
func (h *ExtractHandler) GetResult(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		h.handleError(c, http.StatusBadRequest, "Task ID is required", nil)
		return
	}

	result, err := h.service.Result(c.Request.Context(), taskID)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Preview validates uploads and returns thumbnails and metadata without
// queueing a batch.
func (h *ExtractHandler) Preview(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid form data", err)
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		h.handleError(c, http.StatusBadRequest, "No files provided", nil)
		return
	}

	previews, err := h.service.Preview(c.Request.Context(), files)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"previews": previews})
}

// mapError translates pipeline errors into HTTP statuses.
func (h *ExtractHandler) mapError(c *gin.Context, err error) {
	var verr *validator.ValidationError
	var allFailed *engine.AllFailedError

	switch {
	case errors.Is(err, engine.ErrRateLimited):
		h.handleError(c, http.StatusTooManyRequests, "Rate limit exceeded", err)
	case errors.Is(err, engine.ErrPayloadTooLarge):
		h.handleError(c, http.StatusRequestEntityTooLarge, "Payload too large", err)
	case errors.Is(err, queue.ErrNotFound):
		h.handleError(c, http.StatusNotFound, "Task not found", err)
	case errors.As(err, &verr):
		h.handleError(c, http.StatusBadRequest, verr.Message, err)
	case errors.As(err, &allFailed):
		h.handleError(c, http.StatusBadGateway, "All recognition engines failed", err)
	default:
		h.handleError(c, http.StatusInternalServerError, "Internal error", err)
	}
}

func (h *ExtractHandler) handleError(c *gin.Context, status int, message string, err error) {
	response := ErrorResponse{Error: http.StatusText(status), Message: message}
	if err != nil {
		h.logger.Error(message,
			logger.Int("status", status),
			logger.Error(err),
		)
	}
	c.JSON(status, response)
}
