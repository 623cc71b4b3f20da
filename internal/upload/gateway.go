// Package upload moves encrypted media payloads to durable storage and
// returns the URL a message can reference.
package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/tribe/internal/content"
)

// Gateway accepts ciphertext for one pending item and returns its URL.
type Gateway interface {
	Upload(ctx context.Context, kind content.Kind, id string, payload []byte) (string, error)
}

// Error is an upload failure. Temporary errors (network, 5xx, throttling)
// can be retried by the user; the rest mean the payload was rejected.
type Error struct {
	Status    int
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upload: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("upload: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTemporary reports whether err is worth retrying. Context cancellation is
// not; errors that are not *Error are treated as transient.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Temporary
	}
	return true
}

// temporaryStatus classifies an HTTP status from either backend.
func temporaryStatus(status int) bool {
	switch {
	case status >= 500:
		return true
	case status == 408, status == 425, status == 429:
		return true
	case status == 400, status == 403, status == 413, status == 415, status == 422:
		return false
	default:
		return true
	}
}

// ObjectKey is the storage key for a pending item's payload.
func ObjectKey(kind content.Kind, id string) string {
	return string(kind) + "/" + id
}
