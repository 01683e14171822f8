package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmp/bkv/bkerrors"
)

func genTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	// 2048 bits for fast tests; production configs use 4096 per
	// spec.md §6. Key size doesn't change the pipeline's logic.
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := genTestKey(t)
	p := NewPipeline(&key.PublicKey, key)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	res, err := p.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, res.Ciphertext, "ciphertext must not equal plaintext")
	require.NotNil(t, res.WrappedKey)
	require.NotNil(t, res.Nonce)

	got, err := p.Decrypt(res.Ciphertext, res.WrappedKey, res.Nonce)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptWithWrongKeyFailsAuth(t *testing.T) {
	key := genTestKey(t)
	other := genTestKey(t)

	p := NewPipeline(&key.PublicKey, key)
	res, err := p.Encrypt([]byte("X"))
	require.NoError(t, err)

	wrongP := NewPipeline(&other.PublicKey, other)
	_, err = wrongP.Decrypt(res.Ciphertext, res.WrappedKey, res.Nonce)
	require.Error(t, err)
	assert.ErrorIs(t, err, bkerrors.ErrCryptoAuth)
}

func TestDecryptWithTamperedCiphertextFailsAuth(t *testing.T) {
	key := genTestKey(t)
	p := NewPipeline(&key.PublicKey, key)

	res, err := p.Encrypt([]byte("original contents"))
	require.NoError(t, err)

	tampered := append([]byte{}, res.Ciphertext...)
	tampered[0] ^= 0xFF

	_, err = p.Decrypt(tampered, res.WrappedKey, res.Nonce)
	require.Error(t, err)
	assert.ErrorIs(t, err, bkerrors.ErrCryptoAuth)
}

func TestDisabledPipelineIsIdentity(t *testing.T) {
	p := NewPipeline(nil, nil)
	assert.False(t, p.Enabled())

	plaintext := []byte("unencrypted")
	res, err := p.Encrypt(plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, res.Ciphertext)
	assert.Nil(t, res.WrappedKey)
	assert.Nil(t, res.Nonce)

	got, err := p.Decrypt(res.Ciphertext, res.WrappedKey, res.Nonce)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}
