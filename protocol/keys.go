package protocol

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/tabsplit/billsync/interfaces"
)

// SymmetricKeySize is the AES-256 key length in bytes.
const SymmetricKeySize = 32

// SymmetricKey is an AES-256-GCM content key.
type SymmetricKey []byte

// GenerateSymmetricKey returns a fresh random content key.
func GenerateSymmetricKey() (SymmetricKey, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// Export encodes the key for transport or local persistence.
func (k SymmetricKey) Export() string {
	return base64.RawURLEncoding.EncodeToString(k)
}

// ParseSymmetricKey decodes a key produced by Export.
func ParseSymmetricKey(s string) (SymmetricKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed key encoding: %w", interfaces.ErrValidation, err)
	}
	if len(raw) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", interfaces.ErrValidation, SymmetricKeySize, len(raw))
	}
	return raw, nil
}

// SigningKeypair holds a per-bill ed25519 identity. The private key never
// leaves the device; the public key travels inside the encrypted payload.
type SigningKeypair struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateSigningKeypair returns a fresh ed25519 keypair.
func GenerateSigningKeypair() (*SigningKeypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing keypair: %w", err)
	}
	return &SigningKeypair{Public: pub, private: priv}, nil
}

// Sign returns the ed25519 signature over data.
func (kp *SigningKeypair) Sign(data []byte) []byte {
	return ed25519.Sign(kp.private, data)
}

// Export encodes the private key (the public key is derivable from it).
func (kp *SigningKeypair) Export() string {
	return base64.RawURLEncoding.EncodeToString(kp.private)
}

// ParseSigningKeypair decodes a keypair produced by Export.
func ParseSigningKeypair(s string) (*SigningKeypair, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signing key encoding: %w", interfaces.ErrValidation, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: signing key must be %d bytes, got %d", interfaces.ErrValidation, ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	return &SigningKeypair{Public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

// Verify reports whether sig is a valid signature over data by pub. It
// tolerates malformed inputs and never panics.
func Verify(data, sig, pub []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}
