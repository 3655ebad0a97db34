package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/titan-auth/engine/internal/domain"
)

// writeJSON serialises v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"detail": ...} at the status its domain error
// kind maps to, defaulting unrecognised errors to 500.
func writeError(w http.ResponseWriter, err error) {
	status, detail := classify(err)
	writeJSON(w, status, map[string]string{"detail": detail})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "Invalid request"
	case errors.Is(err, domain.ErrInvalidKey):
		return http.StatusUnprocessableEntity, "Invalid public key"
	case errors.Is(err, domain.ErrDuplicateKey):
		return http.StatusUnprocessableEntity, "Public key already registered"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, "Unauthorized"
	case errors.Is(err, domain.ErrSlotTimeout):
		return http.StatusUnprocessableEntity, "Mint slot timeout"
	case errors.Is(err, domain.ErrInternal):
		return http.StatusInternalServerError, "Internal error"
	case errors.Is(err, errOverCapacity{}):
		return http.StatusServiceUnavailable, "Engine at capacity"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}
