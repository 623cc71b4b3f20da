package outbox

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/matheus3301/tribe/internal/api"
	"github.com/matheus3301/tribe/internal/drafts"
)

// MessageAPI posts a message to a tribe. *api.Pipeline satisfies it through PipelineAPI.
type MessageAPI interface {
	PostMessage(ctx context.Context, tribeID string, msg api.OutgoingMessage) (api.PostedMessage, error)
}

// PipelineAPI adapts an api.Pipeline to MessageAPI.
type PipelineAPI struct{ *api.Pipeline }

func (p PipelineAPI) PostMessage(ctx context.Context, tribeID string, msg api.OutgoingMessage) (api.PostedMessage, error) {
	return api.PostMessage(ctx, p.Pipeline, tribeID, msg)
}

// Poster turns a complete draft into a message on the server.
type Poster struct {
	api    MessageAPI
	logger *zap.Logger
}

// NewPoster creates a poster.
func NewPoster(m MessageAPI, logger *zap.Logger) *Poster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poster{api: m, logger: logger}
}

// Post sends d with the content of p. Inline content carries its ciphertext;
// media carries the uploaded URL. Both carry every wrapped key.
func (p *Poster) Post(ctx context.Context, d drafts.Draft, pc drafts.Pending) (string, error) {
	if !pc.IsUploaded() {
		return "", errors.New("outbox: content not uploaded")
	}
	msg := api.OutgoingMessage{
		ClientID:         d.ID.String(),
		Kind:             string(pc.Kind),
		WrappedKeys:      pc.Encrypted.WrappedKeys,
		ContextMessageID: d.ContextMessageID,
		Caption:          d.Caption,
		Tag:              d.Tag,
		Timestamp:        d.Timestamp.UnixMilli(),
	}
	if pc.Inline() {
		msg.Ciphertext = pc.Encrypted.Ciphertext
	} else {
		msg.URL = pc.UploadedRef
	}

	ack, err := p.api.PostMessage(ctx, d.TribeID, msg)
	if err != nil {
		return "", err
	}
	if ack.ID == "" {
		return "", errors.New("outbox: server ack without message id")
	}
	p.logger.Debug("message acknowledged",
		zap.String("client_msg_id", msg.ClientID),
		zap.String("server_msg_id", ack.ID),
	)
	return ack.ID, nil
}

var _ drafts.Poster = (*Poster)(nil)
