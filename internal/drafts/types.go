package drafts

import (
	"time"

	"github.com/google/uuid"

	"github.com/matheus3301/tribe/internal/content"
	"github.com/matheus3301/tribe/internal/crypto"
)

// Pending is a staged content item. Raw is only held in memory for items
// staged by this process; after a restart only the encrypted form exists.
type Pending struct {
	ID          uuid.UUID
	Kind        content.Kind
	Raw         content.Raw
	Encrypted   crypto.EncryptedContent
	UploadedRef string
	Stage       Stage
	LastError   string
	Retryable   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsUploaded reports whether a message can reference the item.
func (p Pending) IsUploaded() bool {
	return p.UploadedRef != "" && (p.Stage == Uploaded || p.Stage == Attached || p.Stage == Posted)
}

// Inline reports whether the ciphertext travels in the message body.
func (p Pending) Inline() bool { return !content.NeedsUpload(p.Kind) }

// Status is the user-visible state of a draft.
type Status string

const (
	StatusUploading      Status = "uploading"
	StatusFailedToUpload Status = "failed_to_upload"
	StatusPosted         Status = "posted"
)

// Draft is an outgoing message waiting for its content and the server's ack.
type Draft struct {
	ID               uuid.UUID
	PendingID        uuid.UUID
	TribeID          string
	ContextMessageID string
	// Caption is sealed for the same recipients as the content; nil when empty.
	Caption     *crypto.EncryptedContent
	Tag         string
	Timestamp   time.Time
	UpdatedAt   time.Time
	Status      Status
	ServerMsgID string
}

// IsStuckUploading reports whether the draft has been uploading for longer
// than threshold since it was created or last retried.
func (d Draft) IsStuckUploading(now time.Time, threshold time.Duration) bool {
	if d.Status != StatusUploading {
		return false
	}
	since := d.UpdatedAt
	if since.IsZero() {
		since = d.Timestamp
	}
	return now.Sub(since) > threshold
}

// DraftInput describes a draft to attach to a pending item.
type DraftInput struct {
	PendingID        uuid.UUID
	TribeID          string
	ContextMessageID string
	Caption          string
	// Recipients seal the caption. Required when Caption is set.
	Recipients []crypto.PublicKey
	Tag        string
}

// Update is the bus payload for drafts events.
type Update struct {
	PendingID uuid.UUID
	DraftID   uuid.UUID
	Stage     Stage
	Status    Status
	Error     string
}
