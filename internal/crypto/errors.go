package crypto

import (
	"errors"
	"fmt"
)

// ErrorKind classifies crypto failures. None of them are retryable.
type ErrorKind int

const (
	KindKeyGeneration ErrorKind = iota + 1
	KindMalformedKey
	KindWrap
	KindUnwrap
	KindEncrypt
	KindDecrypt
	KindNoRecipients
	KindNoKeyForRecipient
	KindEncode
)

func (k ErrorKind) String() string {
	switch k {
	case KindKeyGeneration:
		return "key generation"
	case KindMalformedKey:
		return "malformed key"
	case KindWrap:
		return "wrap"
	case KindUnwrap:
		return "unwrap"
	case KindEncrypt:
		return "encrypt"
	case KindDecrypt:
		return "decrypt"
	case KindNoRecipients:
		return "no recipients"
	case KindNoKeyForRecipient:
		return "no key for recipient"
	case KindEncode:
		return "encode"
	default:
		return "unknown"
	}
}

// Error is returned by every operation in this package.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	if e.Op == "" {
		return "crypto: " + e.Kind.String()
	}
	return fmt.Sprintf("crypto %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNoKeyForRecipient) works
// regardless of Op.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// ErrNoKeyForRecipient means the message carries no wrapped key for the caller,
// e.g. the caller joined the tribe after it was sent. The content is
// legitimately unreadable; retrying will not help.
var ErrNoKeyForRecipient = &Error{Kind: KindNoKeyForRecipient}

// ErrNoRecipients is returned when encrypting for an empty recipient list.
var ErrNoRecipients = &Error{Kind: KindNoRecipients}

func newError(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
