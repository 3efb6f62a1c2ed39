package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
)

var ErrUndecryptable = errors.New("failed to decrypt message text")

// Encryptor seals message text at rest with AES-256-GCM.
// Text written by older deployments under a Fernet key can still be opened.
type Encryptor struct {
	aead       cipher.AEAD
	fernetKeys []*fernet.Key
}

// NewEncryptor derives the AES key from secret with SHA-256, so any
// non-empty secret length works.
func NewEncryptor(secret []byte, legacyKeys []string) (*Encryptor, error) {
	if len(secret) == 0 {
		return nil, errors.New("encryption key must not be empty")
	}
	sum := sha256.Sum256(secret)
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	var keys []*fernet.Key
	for _, raw := range append([]string{string(secret)}, legacyKeys...) {
		if k, err := fernet.DecodeKey(strings.TrimSpace(raw)); err == nil {
			keys = append(keys, k)
		}
	}
	return &Encryptor{aead: aead, fernetKeys: keys}, nil
}

func (e *Encryptor) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *Encryptor) Decrypt(enc string) (string, error) {
	if raw, err := base64.StdEncoding.DecodeString(enc); err == nil && len(raw) >= e.aead.NonceSize() {
		n := e.aead.NonceSize()
		if plain, err := e.aead.Open(nil, raw[:n], raw[n:], nil); err == nil {
			return string(plain), nil
		}
	}
	if len(e.fernetKeys) > 0 {
		// ttl 0 disables the Fernet expiry check
		if plain := fernet.VerifyAndDecrypt([]byte(enc), 0*time.Second, e.fernetKeys); plain != nil {
			return string(plain), nil
		}
	}
	return "", ErrUndecryptable
}
