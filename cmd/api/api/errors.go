package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/onkernel/termlab/lib/lessons"
	"github.com/onkernel/termlab/lib/logger"
	"github.com/onkernel/termlab/lib/sessions"
)

// Error is the JSON body of every failed request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Code: code, Message: message})
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
	return false
}

// respondErr maps domain errors onto status codes.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, sessions.ErrLimitReached):
		writeError(w, http.StatusConflict, "limit_reached", err.Error())
	case errors.Is(err, lessons.ErrNotFound):
		writeError(w, http.StatusBadRequest, "unknown_lesson", err.Error())
	case errors.Is(err, sessions.ErrNoLesson),
		errors.Is(err, sessions.ErrInvalidCheck),
		errors.Is(err, lessons.ErrTaskIndex),
		errors.Is(err, lessons.ErrUnknownValidation),
		errors.Is(err, lessons.ErrInvalidLesson):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
