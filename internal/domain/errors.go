package domain

import "errors"

// Error kinds surfaced at the HTTP boundary. Each maps to a fixed status
// code in internal/httpapi.
var (
	// ErrInvalidInput marks a missing or malformed request field.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidKey marks a PEM that failed to parse as an ECDSA P-256 public key.
	ErrInvalidKey = errors.New("invalid public key")

	// ErrDuplicateKey marks a fingerprint collision on registration.
	ErrDuplicateKey = errors.New("public key already registered")

	// ErrUnauthorized covers unknown/revoked identities, challenge mismatch,
	// and signature verification failure.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSlotTimeout marks a signing executor slot that was not acquired in time.
	ErrSlotTimeout = errors.New("mint slot timeout")

	// ErrInternal covers unexpected storage or signing failures.
	ErrInternal = errors.New("internal error")
)
