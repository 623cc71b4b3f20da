package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// SymmetricKeySize is the size of a per-message content key.
const SymmetricKeySize = chacha20poly1305.KeySize

// Symmetric seals content with XChaCha20-Poly1305. The random 192-bit nonce
// is prepended to the ciphertext.
type Symmetric struct{}

// NewKey returns a fresh random content key.
func (Symmetric) NewKey() ([]byte, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, newError("keygen", KindKeyGeneration, err)
	}
	return key, nil
}

// Seal encrypts plaintext under key and returns nonce || ciphertext.
func (Symmetric) Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, newError("seal", KindMalformedKey, err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, newError("seal", KindEncrypt, err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts the output of Seal.
func (Symmetric) Open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, newError("open", KindMalformedKey, err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, newError("open", KindDecrypt, errors.New("ciphertext too short"))
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, newError("open", KindDecrypt, err)
	}
	return pt, nil
}
