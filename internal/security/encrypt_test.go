package security_test

import (
	"testing"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmchat/internal/security"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := security.NewEncryptor([]byte("any length secret"), nil)
	require.NoError(t, err)

	sealed, err := enc.Encrypt("hello there")
	require.NoError(t, err)
	assert.NotEqual(t, "hello there", sealed)

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello there", plain)
}

func TestEncryptor_NonceIsRandom(t *testing.T) {
	enc, err := security.NewEncryptor([]byte("k"), nil)
	require.NoError(t, err)

	a, _ := enc.Encrypt("same")
	b, _ := enc.Encrypt("same")
	assert.NotEqual(t, a, b)
}

func TestEncryptor_LegacyFernet(t *testing.T) {
	var key fernet.Key
	require.NoError(t, key.Generate())

	legacy, err := fernet.EncryptAndSign([]byte("old text"), &key)
	require.NoError(t, err)

	enc, err := security.NewEncryptor([]byte("new secret"), []string{key.Encode()})
	require.NoError(t, err)

	plain, err := enc.Decrypt(string(legacy))
	require.NoError(t, err)
	assert.Equal(t, "old text", plain)
}

func TestEncryptor_Errors(t *testing.T) {
	_, err := security.NewEncryptor(nil, nil)
	assert.Error(t, err)

	enc, err := security.NewEncryptor([]byte("k"), nil)
	require.NoError(t, err)
	_, err = enc.Decrypt("garbage")
	assert.ErrorIs(t, err, security.ErrUndecryptable)

	other, err := security.NewEncryptor([]byte("other"), nil)
	require.NoError(t, err)
	sealed, _ := other.Encrypt("x")
	_, err = enc.Decrypt(sealed)
	assert.ErrorIs(t, err, security.ErrUndecryptable)
}
