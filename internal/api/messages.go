package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/matheus3301/tribe/internal/crypto"
)

// OutgoingMessage is the body of POST /tribes/{tribe}/messages. Text and
// notes carry their ciphertext inline; media carries the uploaded URL. The
// caption is sealed for the same recipients as the content.
type OutgoingMessage struct {
	ClientID         string                   `json:"client_id"`
	Kind             string                   `json:"kind"`
	Ciphertext       []byte                   `json:"ciphertext,omitempty"`
	URL              string                   `json:"url,omitempty"`
	WrappedKeys      []crypto.WrappedKey      `json:"wrapped_keys"`
	ContextMessageID string                   `json:"context_message_id,omitempty"`
	Caption          *crypto.EncryptedContent `json:"caption,omitempty"`
	Tag              string                   `json:"tag,omitempty"`
	Timestamp        int64                    `json:"timestamp"`
}

// PostedMessage is the server's acknowledgement.
type PostedMessage struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// PostMessage posts msg to a tribe.
func PostMessage(ctx context.Context, p *Pipeline, tribeID string, msg OutgoingMessage) (PostedMessage, error) {
	return Call[PostedMessage](ctx, p, Request{
		Method: http.MethodPost,
		Path:   "/tribes/" + url.PathEscape(tribeID) + "/messages",
		Body:   msg,
	})
}
