package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dharsanguruparan/ScanVault/internal/model"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable code and the wrapped error message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errorKinds = []struct {
	kind   error
	status int
	code   string
}{
	{model.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHORIZED"},
	{model.ErrIdentityUnavailable, http.StatusServiceUnavailable, "IDENTITY_UNAVAILABLE"},
	{model.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{model.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"},
	{model.ErrInvalidScan, http.StatusBadRequest, "VALIDATION_ERROR"},
	{model.ErrBlobUploadFailed, http.StatusBadGateway, "BLOB_UPLOAD_FAILED"},
	{model.ErrPersistence, http.StatusServiceUnavailable, "PERSISTENCE_ERROR"},
	{model.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{model.ErrReportGenerationFailed, http.StatusInternalServerError, "REPORT_GENERATION_FAILED"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
}

// classify maps an error to its HTTP status and code. The first matching kind
// wins, so a failure that is both a blob error and a persistence error is
// reported as the earlier, more specific one.
func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	log := s.logger.With(
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Info("request rejected")
	}
	respondJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: err.Error()}})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", slog.String("error", err.Error()))
	}
}
