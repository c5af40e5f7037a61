package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"polo/internal/importer"
	"polo/internal/linker"
	"polo/internal/logger"
	"polo/internal/model"
	"polo/internal/service"
	"polo/internal/service/classify"
	"polo/internal/storage/core"
	"polo/internal/xtal"
)

// writeJSON encodes data as the response body.
func writeJSON(w http.ResponseWriter, logger *logger.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// writeError maps err to a status code. Unexpected errors are logged and
// reported as 500 without detail.
func writeError(w http.ResponseWriter, logger *logger.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
		msg = "Internal Server Error"
	}
	writeJSON(w, logger, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	var verr *model.ValidationError
	switch {
	case errors.Is(err, model.ErrRunNotFound),
		errors.Is(err, service.ErrImageNotFound),
		errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDuplicateRunName),
		errors.Is(err, classify.ErrRunBusy):
		return http.StatusConflict
	case errors.Is(err, xtal.ErrCorruptFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNoCatalog):
		return http.StatusServiceUnavailable
	case errors.As(err, &verr),
		errors.Is(err, model.ErrInvalidRunName),
		errors.Is(err, service.ErrUnknownAxis),
		errors.Is(err, service.ErrNoSplice),
		errors.Is(err, importer.ErrNotHWIDirectory),
		errors.Is(err, importer.ErrEmptyDirectory),
		errors.Is(err, linker.ErrNotVisible),
		errors.Is(err, linker.ErrNoRing),
		errors.Is(err, classify.ErrNotClassifiable),
		errors.Is(err, classify.ErrNothingToClassify),
		errors.Is(err, core.ErrInvalidKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" from the request (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseBool reads a checkbox-style flag.
func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b || v == "on"
}

// totalPages is the number of pages of limit items holding total.
func totalPages(total, limit int) int {
	return (total + limit - 1) / limit
}
