package api

import (
	"time"
)

// MaxBodySize is the maximum allowed request body size (1MB).
const MaxBodySize = 1024 * 1024

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying error to errors.Is.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the JSON body returned for any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateSecretRequest stores an opaque encrypted payload as a one-time
// secret. The payload is base64 in JSON; the server never inspects it.
type CreateSecretRequest struct {
	EncryptedPayload []byte `json:"encrypted_payload"`
}

// CreateSecretResponse returns the fresh secret identifier.
type CreateSecretResponse struct {
	KeyID     string    `json:"key_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SecretPayloadResponse is the destructive-read response body.
type SecretPayloadResponse struct {
	EncryptedPayload []byte `json:"encrypted_payload"`
}

// SecretStatusResponse reports non-destructive availability.
type SecretStatusResponse struct {
	Status string `json:"status"`
}

// SecretStatusAvailable is the only status a stored secret can report;
// anything else is a 404.
const SecretStatusAvailable = "available"

// CreateShareRequest creates or replaces a share session's ciphertext.
type CreateShareRequest struct {
	Ciphertext []byte `json:"ciphertext"`
}

// CreateShareResponse returns the fresh session identifier and version.
type CreateShareResponse struct {
	ShareID string `json:"share_id"`
	Version int64  `json:"version"`
}

// UpdateShareResponse returns the new version after an update.
type UpdateShareResponse struct {
	Version int64 `json:"version"`
}

// FetchShareResponse returns a session's ciphertext and version.
type FetchShareResponse struct {
	Ciphertext []byte `json:"ciphertext"`
	Version    int64  `json:"version"`
}

// IfNewerThanParam is the conditional-fetch query parameter name.
const IfNewerThanParam = "ifNewerThan"
