package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies API failures.
type ErrorKind int

const (
	// KindAuthExpired is a 401 on the first attempt. The pipeline handles it
	// by refreshing and replaying; callers never see it.
	KindAuthExpired ErrorKind = iota + 1
	// KindUnauthorized is terminal: the session could not be renewed or the
	// replayed request was rejected again. The user has been logged out.
	KindUnauthorized
	KindHTTP
	KindInvalidRequest
	KindDecoding
	KindRaw
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth expired"
	case KindUnauthorized:
		return "unauthorized"
	case KindHTTP:
		return "http error"
	case KindInvalidRequest:
		return "invalid request"
	case KindDecoding:
		return "decoding error"
	case KindRaw:
		return "transport error"
	default:
		return "unknown"
	}
}

// Error is returned by every pipeline call.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTP && e.Message != "":
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
	case e.Kind == KindHTTP:
		return fmt.Sprintf("api: status %d", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("api: %s: %v", e.Kind, e.Err)
	default:
		return "api: " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsUnauthorized reports whether err ended the session.
func IsUnauthorized(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == KindUnauthorized
}
