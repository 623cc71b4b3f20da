// Package crypto implements per-message content encryption for tribes.
//
// Each message is sealed once under a fresh 256-bit XChaCha20-Poly1305 key.
// That key is then wrapped separately for every recipient with RSA-OAEP
// (SHA-256) under the recipient's 2048-bit public key. Ciphertext and wrapped
// keys are safe to persist and transmit; the symmetric key never leaves this
// package unwrapped and is wiped after use.
package crypto
