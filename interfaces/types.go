package interfaces

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Sentinel errors shared across the system. Components wrap these with
// context; HTTP and relay layers map them with errors.Is.
var (
	// ErrNotFound covers absent, expired and already-consumed records.
	ErrNotFound = errors.New("not found")

	// ErrConflict signals a lost update race on a share session.
	ErrConflict = errors.New("conflict")

	// ErrTransport signals an unreachable backend or a dropped connection.
	ErrTransport = errors.New("transport failure")

	// ErrValidation signals malformed local input, never sent to a server.
	ErrValidation = errors.New("validation failure")

	// ErrNotModified is returned by conditional share-session fetches when
	// the caller already holds the latest version.
	ErrNotModified = errors.New("not modified")
)

// SecretID locates a one-time secret. It is a random identifier, not a key.
type SecretID string

// NewSecretID returns a fresh random secret identifier.
func NewSecretID() SecretID {
	return SecretID(uuid.Must(uuid.NewRandom()).String())
}

// ParseSecretID validates the wire form of a secret identifier.
func ParseSecretID(s string) (SecretID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: invalid secret id: %v", ErrValidation, err)
	}
	return SecretID(s), nil
}

// String returns the canonical string form.
func (id SecretID) String() string { return string(id) }

// SessionID locates a share session. Stable across re-shares so distributed
// links remain valid as long as the owner keeps re-encrypting.
type SessionID string

// NewSessionID returns a fresh random session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.Must(uuid.NewRandom()).String())
}

// ParseSessionID validates the wire form of a session identifier.
func ParseSessionID(s string) (SessionID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: invalid session id: %v", ErrValidation, err)
	}
	return SessionID(s), nil
}

// String returns the canonical string form.
func (id SessionID) String() string { return string(id) }

// PairingCodeLength is the number of digits in a relay pairing code.
const PairingCodeLength = 6

// PairingCode is the short numeric code that pairs exactly two devices on
// the sync relay. Codes are single-use: a fresh sync always requests a new
// one.
type PairingCode string

// NewPairingCode generates a random 6-digit pairing code.
func NewPairingCode() (PairingCode, error) {
	max := big.NewInt(1)
	for i := 0; i < PairingCodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	return PairingCode(fmt.Sprintf("%0*d", PairingCodeLength, n)), nil
}

// ParsePairingCode validates a typed or QR-scanned pairing code.
func ParsePairingCode(s string) (PairingCode, error) {
	if len(s) != PairingCodeLength {
		return "", fmt.Errorf("%w: pairing code must be %d digits", ErrValidation, PairingCodeLength)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%w: pairing code must be numeric", ErrValidation)
		}
	}
	return PairingCode(s), nil
}

// String returns the code as typed by the user.
func (c PairingCode) String() string { return string(c) }
