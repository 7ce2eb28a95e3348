package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/tabsplit/billsync/interfaces"
)

// Encrypt seals plaintext with AES-256-GCM. The output is the random
// nonce followed by the ciphertext.
func Encrypt(key SymmetricKey, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt. Tampered or truncated input
// fails with ErrValidation.
func Decrypt(key SymmetricKey, data []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(data) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", interfaces.ErrValidation)
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed", interfaces.ErrValidation)
	}
	return plaintext, nil
}

func newAEAD(key SymmetricKey) (cipher.AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", interfaces.ErrValidation, SymmetricKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// SignedPayload is the envelope sealed inside share ciphertexts. The
// signature is computed over the plaintext payload, so tampering with
// either the payload or the claimed identity is detected after decryption.
type SignedPayload struct {
	Payload   []byte `json:"payload"`
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// SealSigned signs payload with kp, wraps it in a SignedPayload envelope
// and encrypts the envelope with key.
func SealSigned(key SymmetricKey, kp *SigningKeypair, payload []byte) ([]byte, error) {
	envelope := SignedPayload{
		Payload:   payload,
		PublicKey: kp.Public,
		Signature: kp.Sign(payload),
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed payload: %w", err)
	}
	return Encrypt(key, raw)
}

// OpenSigned decrypts data, checks the embedded signature and returns the
// payload along with the signer's public key.
func OpenSigned(key SymmetricKey, data []byte) ([]byte, []byte, error) {
	raw, err := Decrypt(key, data)
	if err != nil {
		return nil, nil, err
	}

	var envelope SignedPayload
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed signed payload", interfaces.ErrValidation)
	}
	if !Verify(envelope.Payload, envelope.Signature, envelope.PublicKey) {
		return nil, nil, fmt.Errorf("%w: signature verification failed", interfaces.ErrValidation)
	}
	return envelope.Payload, envelope.PublicKey, nil
}

// hkdfInfo and hkdfRecipientInfo domain-separate the two keys derived
// from a link fragment secret.
var (
	hkdfInfo          = []byte("billsync link wrap v1")
	hkdfRecipientInfo = []byte("billsync link recipient v1")
)

// deriveWrapKey stretches a link fragment secret into an AES-256 key.
func deriveWrapKey(fragment []byte) (SymmetricKey, error) {
	return deriveFragmentKey(fragment, hkdfInfo)
}

func deriveFragmentKey(fragment, info []byte) (SymmetricKey, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, fragment, nil, info), key); err != nil {
		return nil, fmt.Errorf("failed to derive fragment key: %w", err)
	}
	return key, nil
}

// SealRecipient encrypts a recipient identifier under a key derived from
// the link fragment, for embedding in the rendered link. An empty
// identifier seals to the empty string.
func SealRecipient(fragment []byte, recipient string) (string, error) {
	if recipient == "" {
		return "", nil
	}
	key, err := deriveFragmentKey(fragment, hkdfRecipientInfo)
	if err != nil {
		return "", err
	}
	sealed, err := Encrypt(key, []byte(recipient))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// OpenRecipient reverses SealRecipient. It needs the same fragment the
// link carries, so only the link holder can read the identifier.
func OpenRecipient(fragment []byte, sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: malformed recipient encoding", interfaces.ErrValidation)
	}
	key, err := deriveFragmentKey(fragment, hkdfRecipientInfo)
	if err != nil {
		return "", err
	}
	recipient, err := Decrypt(key, raw)
	if err != nil {
		return "", err
	}
	return string(recipient), nil
}

// WrapContentKey encrypts an exported content key under a key derived
// from the link fragment. The result is what gets stored as the one-time
// secret.
func WrapContentKey(fragment []byte, content SymmetricKey) ([]byte, error) {
	wrapKey, err := deriveWrapKey(fragment)
	if err != nil {
		return nil, err
	}
	return Encrypt(wrapKey, content)
}

// UnwrapContentKey reverses WrapContentKey.
func UnwrapContentKey(fragment []byte, wrapped []byte) (SymmetricKey, error) {
	wrapKey, err := deriveWrapKey(fragment)
	if err != nil {
		return nil, err
	}
	raw, err := Decrypt(wrapKey, wrapped)
	if err != nil {
		return nil, err
	}
	if len(raw) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: unwrapped key has wrong size", interfaces.ErrValidation)
	}
	return raw, nil
}
