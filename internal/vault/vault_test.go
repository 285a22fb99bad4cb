package vault_test

import (
	"testing"

	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/mdouchement/timecapsule/internal/vault"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	codec, err := vault.New([]byte("correct horse battery staple"))
	require.NoError(t, err)

	for _, m := range []string{
		"",
		"Hello future me",
		"Ünïcödé ✓ 時間 カプセル 🎉",
		"multi\nline\r\nmessage\x00with nul",
	} {
		c, err := codec.Encrypt(m)
		assert.NoError(t, err)
		assert.NotEmpty(t, c.Nonce)
		assert.NotEqual(t, []byte(m), c.Payload)

		plaintext, err := codec.Decrypt(c)
		assert.NoError(t, err)
		assert.Equal(t, m, plaintext)
	}
}

func TestEncryptUsesFreshNonces(t *testing.T) {
	codec, err := vault.New([]byte("secret"))
	require.NoError(t, err)

	c1, err := codec.Encrypt("same")
	require.NoError(t, err)
	c2, err := codec.Encrypt("same")
	require.NoError(t, err)

	assert.NotEqual(t, c1.Nonce, c2.Nonce)
	assert.NotEqual(t, c1.Payload, c2.Payload)
}

func TestDecryptErrors(t *testing.T) {
	codec, err := vault.New([]byte("secret"))
	require.NoError(t, err)

	other, err := vault.New([]byte("another secret"))
	require.NoError(t, err)

	sealed, err := codec.Encrypt("top secret")
	require.NoError(t, err)

	tampered := model.Ciphertext{Nonce: sealed.Nonce, Payload: append([]byte{}, sealed.Payload...)}
	tampered.Payload[0] ^= 0xff

	for name, c := range map[string]model.Ciphertext{
		"empty":     {},
		"bad nonce": {Nonce: []byte("short"), Payload: sealed.Payload},
		"truncated": {Nonce: sealed.Nonce, Payload: sealed.Payload[:4]},
		"tampered":  tampered,
	} {
		_, err := codec.Decrypt(c)
		var derr *vault.DecryptError
		assert.True(t, errors.As(err, &derr), name)
	}

	_, err = other.Decrypt(sealed)
	var derr *vault.DecryptError
	assert.True(t, errors.As(err, &derr))
}

func TestNew(t *testing.T) {
	_, err := vault.New(nil)
	assert.Error(t, err)
}

func TestKDF(t *testing.T) {
	k1, err := vault.KDF(32, []byte("secret"))
	assert.NoError(t, err)
	assert.Len(t, k1, 32)

	k2, err := vault.KDF(32, []byte("secret"))
	assert.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := vault.KDF(32, []byte("secreT"))
	assert.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}
