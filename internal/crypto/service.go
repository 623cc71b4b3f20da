package crypto

import (
	"go.uber.org/zap"

	"github.com/matheus3301/tribe/internal/content"
)

// PublicKey is a recipient's PKIX DER public key as published in the tribe
// membership list.
type PublicKey []byte

// ID returns the recipient key id.
func (p PublicKey) ID() string { return KeyID(p) }

// WrappedKey is the content key encrypted for one recipient.
type WrappedKey struct {
	RecipientKeyID string `json:"recipient_public_key_id"`
	EncryptedKey   []byte `json:"encrypted_symmetric_key"`
}

// EncryptedContent is one ciphertext plus a wrapped key per recipient. It is
// either complete or not produced at all.
type EncryptedContent struct {
	Ciphertext  []byte       `json:"ciphertext"`
	WrappedKeys []WrappedKey `json:"wrapped_keys"`
}

// KeyFor returns the wrapped key addressed to recipientKeyID.
func (e EncryptedContent) KeyFor(recipientKeyID string) (WrappedKey, bool) {
	for _, wk := range e.WrappedKeys {
		if wk.RecipientKeyID == recipientKeyID {
			return wk, true
		}
	}
	return WrappedKey{}, false
}

// Service encrypts message content for a set of recipients.
type Service struct {
	asym Asymmetric
	sym  Symmetric
	log  *zap.Logger
}

// NewService creates a content encryption service.
func NewService(log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{log: log}
}

// Asymmetric exposes the key pair operations used for identity keys.
func (s *Service) Asymmetric() Asymmetric { return s.asym }

// Encrypt serializes raw and seals it for every recipient.
func (s *Service) Encrypt(raw content.Raw, recipients []PublicKey) (EncryptedContent, error) {
	plaintext, err := content.Encode(raw)
	if err != nil {
		return EncryptedContent{}, newError("encrypt", KindEncode, err)
	}
	return s.EncryptBytes(plaintext, recipients)
}

// EncryptBytes seals an already encoded payload. A fresh key is generated on
// every call. If any recipient key cannot be used, no result is returned.
func (s *Service) EncryptBytes(plaintext []byte, recipients []PublicKey) (EncryptedContent, error) {
	if len(recipients) == 0 {
		return EncryptedContent{}, ErrNoRecipients
	}

	key, err := s.sym.NewKey()
	if err != nil {
		return EncryptedContent{}, err
	}
	defer Wipe(key)

	ct, err := s.sym.Seal(key, plaintext)
	if err != nil {
		return EncryptedContent{}, err
	}

	wrapped, err := s.wrapAll(key, recipients, nil)
	if err != nil {
		return EncryptedContent{}, err
	}

	s.log.Debug("content encrypted",
		zap.Int("bytes", len(plaintext)),
		zap.Int("recipients", len(wrapped)),
	)
	return EncryptedContent{Ciphertext: ct, WrappedKeys: wrapped}, nil
}

// Decrypt opens enc with the caller's private key. ErrNoKeyForRecipient is
// returned when enc carries no entry for myKeyID.
func (s *Service) Decrypt(enc EncryptedContent, myPrivateKey []byte, myKeyID string) ([]byte, error) {
	key, err := s.unwrapFor(enc, myPrivateKey, myKeyID)
	if err != nil {
		return nil, err
	}
	defer Wipe(key)
	return s.sym.Open(key, enc.Ciphertext)
}

// DecryptContent decrypts and decodes enc back into content of the given kind.
func (s *Service) DecryptContent(enc EncryptedContent, myPrivateKey []byte, myKeyID string, kind content.Kind) (content.Raw, error) {
	b, err := s.Decrypt(enc, myPrivateKey, myKeyID)
	if err != nil {
		return nil, err
	}
	raw, err := content.Decode(kind, b)
	if err != nil {
		return nil, newError("decrypt", KindEncode, err)
	}
	return raw, nil
}

// Rewrap grants newRecipients access to enc without touching the ciphertext.
// The caller must hold an entry of its own. Recipients that already have an
// entry are skipped; the result is all or nothing like EncryptBytes.
func (s *Service) Rewrap(enc EncryptedContent, myPrivateKey []byte, myKeyID string, newRecipients []PublicKey) (EncryptedContent, error) {
	if len(newRecipients) == 0 {
		return EncryptedContent{}, ErrNoRecipients
	}
	key, err := s.unwrapFor(enc, myPrivateKey, myKeyID)
	if err != nil {
		return EncryptedContent{}, err
	}
	defer Wipe(key)

	seen := make(map[string]bool, len(enc.WrappedKeys))
	for _, wk := range enc.WrappedKeys {
		seen[wk.RecipientKeyID] = true
	}
	added, err := s.wrapAll(key, newRecipients, seen)
	if err != nil {
		return EncryptedContent{}, err
	}

	out := EncryptedContent{
		Ciphertext:  enc.Ciphertext,
		WrappedKeys: make([]WrappedKey, 0, len(enc.WrappedKeys)+len(added)),
	}
	out.WrappedKeys = append(out.WrappedKeys, enc.WrappedKeys...)
	out.WrappedKeys = append(out.WrappedKeys, added...)
	return out, nil
}

func (s *Service) wrapAll(key []byte, recipients []PublicKey, skip map[string]bool) ([]WrappedKey, error) {
	out := make([]WrappedKey, 0, len(recipients))
	for _, pub := range recipients {
		id := pub.ID()
		if skip[id] {
			continue
		}
		ek, err := s.asym.Wrap(pub, key)
		if err != nil {
			s.log.Warn("wrap failed, aborting encryption", zap.String("recipient", id))
			return nil, err
		}
		if skip == nil {
			skip = make(map[string]bool)
		}
		skip[id] = true
		out = append(out, WrappedKey{RecipientKeyID: id, EncryptedKey: ek})
	}
	return out, nil
}

func (s *Service) unwrapFor(enc EncryptedContent, myPrivateKey []byte, myKeyID string) ([]byte, error) {
	wk, ok := enc.KeyFor(myKeyID)
	if !ok {
		return nil, &Error{Op: "decrypt", Kind: KindNoKeyForRecipient}
	}
	key, err := s.asym.Unwrap(myPrivateKey, wk.EncryptedKey)
	if err != nil {
		return nil, err
	}
	if len(key) != SymmetricKeySize {
		Wipe(key)
		return nil, newError("decrypt", KindUnwrap, nil)
	}
	return key, nil
}
