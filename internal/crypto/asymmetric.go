package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
)

// RSAKeyBits is the modulus size of generated identity keys.
const RSAKeyBits = 2048

// KeyPair is the device's long-lived identity. Public is PKIX DER and is the
// only half ever transmitted; Private is PKCS#8 DER and stays in the keystore.
type KeyPair struct {
	Public  []byte `json:"public"`
	Private []byte `json:"private"`
}

// KeyID derives a stable recipient identifier from a DER public key.
func KeyID(public []byte) string {
	sum := sha256.Sum256(public)
	return hex.EncodeToString(sum[:])
}

// ID returns the key id of the pair's public half.
func (kp KeyPair) ID() string { return KeyID(kp.Public) }

// Asymmetric generates identity keys and wraps fixed-size payloads with them.
type Asymmetric struct{}

// GenerateKeyPair creates a fresh RSA key pair.
func (Asymmetric) GenerateKeyPair() (KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return KeyPair{}, newError("generate", KindKeyGeneration, err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPair{}, newError("generate", KindKeyGeneration, err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return KeyPair{}, newError("generate", KindKeyGeneration, err)
	}
	return KeyPair{Public: pub, Private: der}, nil
}

// Wrap encrypts payload (a symmetric key) to the DER public key.
func (Asymmetric) Wrap(public, payload []byte) ([]byte, error) {
	pub, err := parsePublic(public)
	if err != nil {
		return nil, newError("wrap", KindMalformedKey, err)
	}
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, payload, nil)
	if err != nil {
		return nil, newError("wrap", KindWrap, err)
	}
	return out, nil
}

// Unwrap decrypts a wrapped payload with the DER private key.
func (Asymmetric) Unwrap(private, wrapped []byte) ([]byte, error) {
	priv, err := parsePrivate(private)
	if err != nil {
		return nil, newError("unwrap", KindMalformedKey, err)
	}
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, newError("unwrap", KindUnwrap, err)
	}
	return out, nil
}

func parsePublic(der []byte) (*rsa.PublicKey, error) {
	if len(der) == 0 {
		return nil, errors.New("empty public key")
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", key)
	}
	if pub.N.BitLen() < RSAKeyBits {
		return nil, fmt.Errorf("public key is %d bits, want at least %d", pub.N.BitLen(), RSAKeyBits)
	}
	return pub, nil
}

func parsePrivate(der []byte) (*rsa.PrivateKey, error) {
	if len(der) == 0 {
		return nil, errors.New("empty private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", key)
	}
	return priv, nil
}
