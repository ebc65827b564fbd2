package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/queue"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON request body into v and writes the error response
// itself when that fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	respondError(w, http.StatusBadRequest, "invalid JSON body")
	return false
}

// mapError is the only place domain errors become HTTP statuses.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, queue.ErrUnknownQueue):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrDuplicateJob):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotParticipant):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidRecipient),
		errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrEmptyRecipients),
		errors.Is(err, domain.ErrInvalidJobPayload),
		errors.Is(err, domain.ErrUnknownJob),
		errors.Is(err, queue.ErrWrongQueue):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
