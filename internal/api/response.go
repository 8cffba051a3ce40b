package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"catalog-sync-service/internal/catalog"
	"catalog-sync-service/internal/crud"
	"catalog-sync-service/internal/logger"
	"catalog-sync-service/internal/remote"
	"catalog-sync-service/internal/resilience"
)

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to encode response", zap.Error(err))
	}
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var verr *catalog.ValidationError
	var rerr *remote.Error

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: crud.FormatValidationError(err)})
	case errors.Is(err, catalog.ErrConsistency):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, catalog.ErrLocalStoreDivergence):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	case errors.Is(err, resilience.ErrOperationTimeout), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: err.Error()})
	case errors.As(err, &rerr):
		status := http.StatusBadGateway
		if rerr.Kind == remote.KindRateLimit {
			status = http.StatusTooManyRequests
		} else if remote.IsNotFound(err) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorBody{Error: err.Error()})
	default:
		logger.Log.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
