package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsplit/billsync/interfaces"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)

	plaintext := []byte(`{"bill":"dinner","total":"84.20"}`)
	ciphertext, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := Decrypt(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)
	ciphertext, err := Encrypt(key, []byte("payload"))
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = Decrypt(key, ciphertext)
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, err = Decrypt(key, []byte("short"))
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	otherKey, err := GenerateSymmetricKey()
	require.NoError(t, err)
	good, err := Encrypt(key, []byte("payload"))
	require.NoError(t, err)
	_, err = Decrypt(otherKey, good)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestSymmetricKeyExportParse(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)

	parsed, err := ParseSymmetricKey(key.Export())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = ParseSymmetricKey("not base64!!")
	assert.ErrorIs(t, err, interfaces.ErrValidation)
	_, err = ParseSymmetricKey("c2hvcnQ")
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateSigningKeypair()
	require.NoError(t, err)

	data := []byte("itemized receipt")
	sig := kp.Sign(data)
	assert.True(t, Verify(data, sig, kp.Public))

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0x01
	assert.False(t, Verify(tampered, sig, kp.Public))

	other, err := GenerateSigningKeypair()
	require.NoError(t, err)
	assert.False(t, Verify(data, sig, other.Public))
}

func TestVerifyToleratesMalformedInput(t *testing.T) {
	assert.False(t, Verify([]byte("data"), nil, nil))
	assert.False(t, Verify([]byte("data"), []byte("sig"), []byte("pub")))
	assert.False(t, Verify(nil, make([]byte, 64), make([]byte, 32)))
}

func TestSigningKeypairExportParse(t *testing.T) {
	kp, err := GenerateSigningKeypair()
	require.NoError(t, err)

	parsed, err := ParseSigningKeypair(kp.Export())
	require.NoError(t, err)
	assert.Equal(t, kp.Public, parsed.Public)

	data := []byte("settle up")
	assert.True(t, Verify(data, parsed.Sign(data), kp.Public))

	_, err = ParseSigningKeypair("dG9vc2hvcnQ")
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestSealOpenSignedRoundTrip(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)
	kp, err := GenerateSigningKeypair()
	require.NoError(t, err)

	payload := []byte(`{"participants":["ana","ben"]}`)
	sealed, err := SealSigned(key, kp, payload)
	require.NoError(t, err)

	opened, signer, err := OpenSigned(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, payload, opened)
	assert.Equal(t, []byte(kp.Public), signer)
}

func TestOpenSignedRejectsForgedSignature(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)
	kp, err := GenerateSigningKeypair()
	require.NoError(t, err)
	forger, err := GenerateSigningKeypair()
	require.NoError(t, err)

	// A forged envelope claims kp's identity but carries forger's signature.
	envelope := SignedPayload{
		Payload:   []byte("altered amounts"),
		PublicKey: kp.Public,
		Signature: forger.Sign([]byte("altered amounts")),
	}
	raw, err := json.Marshal(envelope)
	require.NoError(t, err)
	sealed, err := Encrypt(key, raw)
	require.NoError(t, err)

	_, _, err = OpenSigned(key, sealed)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestSealOpenRecipient(t *testing.T) {
	fragment := []byte("0123456789abcdef0123456789abcdef")

	sealed, err := SealRecipient(fragment, "ana@example.com")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "ana@example.com")

	recipient, err := OpenRecipient(fragment, sealed)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", recipient)

	_, err = OpenRecipient([]byte("wrong fragment wrong fragment!!!"), sealed)
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	// Empty identifier seals to nothing.
	sealed, err = SealRecipient(fragment, "")
	require.NoError(t, err)
	assert.Empty(t, sealed)
}

func TestWrapUnwrapContentKey(t *testing.T) {
	content, err := GenerateSymmetricKey()
	require.NoError(t, err)
	fragment := []byte("0123456789abcdef0123456789abcdef")

	wrapped, err := WrapContentKey(fragment, content)
	require.NoError(t, err)

	unwrapped, err := UnwrapContentKey(fragment, wrapped)
	require.NoError(t, err)
	assert.Equal(t, content, unwrapped)

	_, err = UnwrapContentKey([]byte("wrong fragment wrong fragment!!!"), wrapped)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}
