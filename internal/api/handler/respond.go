package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/notifyhub/torque-notifications/internal/auth"
	"github.com/notifyhub/torque-notifications/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// statusFor translates domain sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidHash),
		errors.Is(err, domain.ErrInvalidEvent),
		errors.Is(err, domain.ErrInvalidChannel),
		errors.Is(err, domain.ErrInvalidFrequency):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrSubjectMismatch):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoAddressRule),
		errors.Is(err, domain.ErrNoAddress),
		errors.Is(err, domain.ErrUnknownView),
		errors.Is(err, domain.ErrNoSender):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func mapError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		respondError(w, status, "internal server error")
		return
	}
	respondError(w, status, err.Error())
}

// decodeJSON reads a JSON body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
