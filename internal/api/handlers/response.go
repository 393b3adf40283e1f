package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/services"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrEmbeddingInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrScanInProgress):
		return http.StatusConflict
	case errors.Is(err, core.ErrUnsupportedFormat), errors.Is(err, core.ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, core.ErrEmptyContent), errors.Is(err, core.ErrConversionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrFetchFailed), errors.Is(err, core.ErrCrawlSubmit):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrServiceUnavailable), errors.Is(err, services.ErrCrawlerDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
