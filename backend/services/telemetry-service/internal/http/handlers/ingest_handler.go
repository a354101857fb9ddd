package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"gridwatch/backend/services/telemetry-service/internal/repository"
	"gridwatch/backend/services/telemetry-service/internal/service"
)

const maxIngestBody = 64 << 10

// Ingester persists device samples.
type Ingester interface {
	Ingest(ctx context.Context, input service.IngestInput) (service.IngestResult, error)
}

// IngestHandler handles device telemetry posts.
type IngestHandler struct {
	service Ingester
	logger  *zap.Logger
}

// NewIngestHandler returns handler.
func NewIngestHandler(service Ingester, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		service: service,
		logger:  logger,
	}
}

// ServeHTTP handles POST /api/data.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var input service.IngestInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&input); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := h.service.Ingest(r.Context(), input)
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"error":   "Invalid data format",
				"details": verr.Details,
			})
		case errors.Is(err, repository.ErrLockTimeout):
			h.logger.Warn("telemetry log busy", zap.Error(err))
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "log busy, retry later")
		default:
			h.logger.Error("failed to log telemetry", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to log data")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "Data logged successfully",
		"rowIndex":  result.RowIndex,
		"timestamp": result.Timestamp,
	})
}
