// Package common defines shared constants and sentinel errors used across
// the secure-data subsystem. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Lookup errors.
	ErrorNotFound   = errors.New("not found")
	ErrorBadRequest = errors.New("bad request")

	// Validation errors; messages are safe to show to clients.
	ErrorValidation           = errors.New("validation error")
	ErrorUnsupportedMediaType = errors.New("unsupported media type")
	ErrorSignatureTooLong     = errors.New("signature too long")

	// Access errors.
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")

	// Storage and configuration errors.
	ErrorProvider      = errors.New("object store error")
	ErrorNotConfigured = errors.New("not configured")

	// Crypto errors. Never retried, never partially trusted.
	ErrorIntegrity         = errors.New("ciphertext integrity check failed")
	ErrorMalformedEnvelope = errors.New("malformed envelope")

	// Checksum errors.
	ErrorChecksumIncomplete = errors.New("checksum fields missing")
	ErrorProjectMismatch    = errors.New("file reference belongs to another project")
)
