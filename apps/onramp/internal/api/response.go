package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
	"onramp/apps/onramp/internal/apperr"
)

// responder is embedded by every handler for consistent response encoding.
type responder struct {
	logger *zap.Logger
}

// writeJSONResponse writes a JSON response with the specified status code
func (h responder) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h responder) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// writeError maps err onto its status and code. Internal errors keep their
// detail out of the response body.
func (h responder) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
		message = "Internal server error"
	}
	h.writeErrorResponse(w, status, apperr.Code(err), message)
}
