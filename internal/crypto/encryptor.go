package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Encryptor turns plaintext shard bytes into opaque ciphertext bytes and
// back. Implementations own their nonce handling; callers treat the result
// as opaque.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// ChaCha20Poly1305Encryptor wraps golang.org/x/crypto's AEAD construction
// behind the Encryptor capability. Keyed by a pre-shared secret, the same
// way safeudp.Config.Key drives its BlockCrypt.
type ChaCha20Poly1305Encryptor struct {
	aead cipher.AEAD
}

// NewChaCha20Poly1305Encryptor builds an Encryptor from a 32-byte key.
func NewChaCha20Poly1305Encryptor(key []byte) (*ChaCha20Poly1305Encryptor, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "init chacha20poly1305")
	}
	return &ChaCha20Poly1305Encryptor{aead: aead}, nil
}

// Encrypt produces nonce||ciphertext||tag.
func (e *ChaCha20Poly1305Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "read nonce")
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+e.aead.Overhead())
	out = append(out, nonce...)
	return e.aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt; ciphertext must carry its nonce prefix.
func (e *ChaCha20Poly1305Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plain, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open sealed shard")
	}
	return plain, nil
}
