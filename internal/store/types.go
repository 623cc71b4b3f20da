package store

// KV is a raw key/value row. Values are opaque to the store.
type KV struct {
	Key   string
	Value []byte
}

// PendingRow is the persisted form of a staged content item.
// Only the encrypted payload is stored; raw content never touches disk.
type PendingRow struct {
	ID          string
	Kind        string
	Encrypted   []byte // JSON-encoded crypto.EncryptedContent
	UploadedRef string
	Stage       string
	LastError   string
	Retryable   bool
	CreatedAt   int64
	UpdatedAt   int64
}

// DraftRow is the persisted form of an outgoing message draft.
type DraftRow struct {
	ID               string
	PendingID        string
	TribeID          string
	ContextMessageID string
	Caption          string
	Tag              string
	Status           string // uploading, failed_to_upload, posted
	ServerMsgID      string
	Timestamp        int64
	UpdatedAt        int64
}
