package crypto

import (
	"fmt"

	"github.com/matheus3301/tribe/internal/keystore"
)

// IdentityKey is the keystore key of the device key pair.
const IdentityKey = "identity.keypair"

// LoadIdentity returns the stored device key pair.
func LoadIdentity(ks keystore.Store) (KeyPair, bool, error) {
	kp, ok, err := keystore.Get[KeyPair](ks, IdentityKey)
	if err != nil {
		return KeyPair{}, false, fmt.Errorf("load identity: %w", err)
	}
	return kp, ok, nil
}

// EnsureIdentity returns the stored key pair, generating and storing one on
// first use. The bool reports whether a new pair was created.
func EnsureIdentity(ks keystore.Store) (KeyPair, bool, error) {
	kp, ok, err := LoadIdentity(ks)
	if err != nil || ok {
		return kp, false, err
	}
	kp, err = Asymmetric{}.GenerateKeyPair()
	if err != nil {
		return KeyPair{}, false, err
	}
	if err := keystore.Set(ks, IdentityKey, kp); err != nil {
		return KeyPair{}, false, fmt.Errorf("store identity: %w", err)
	}
	return kp, true, nil
}

// ResetIdentity deletes the device key pair. Content wrapped for it becomes unreadable.
func ResetIdentity(ks keystore.Store) error {
	return ks.Delete(IdentityKey)
}
