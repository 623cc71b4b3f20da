package drafts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matheus3301/tribe/internal/content"
	"github.com/matheus3301/tribe/internal/crypto"
	"github.com/matheus3301/tribe/internal/store"
)

func pendingToRow(p *Pending) (*store.PendingRow, error) {
	enc, err := json.Marshal(p.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("encode encrypted payload: %w", err)
	}
	return &store.PendingRow{
		ID:          p.ID.String(),
		Kind:        string(p.Kind),
		Encrypted:   enc,
		UploadedRef: p.UploadedRef,
		Stage:       string(p.Stage),
		LastError:   p.LastError,
		Retryable:   p.Retryable,
		CreatedAt:   p.CreatedAt.UnixMilli(),
	}, nil
}

func pendingFromRow(r store.PendingRow) (*Pending, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("pending id %q: %w", r.ID, err)
	}
	kind, err := content.ParseKind(r.Kind)
	if err != nil {
		return nil, err
	}
	stage, err := ParseStage(r.Stage)
	if err != nil {
		return nil, err
	}
	var enc crypto.EncryptedContent
	if err := json.Unmarshal(r.Encrypted, &enc); err != nil {
		return nil, fmt.Errorf("pending %s: decode encrypted payload: %w", r.ID, err)
	}
	return &Pending{
		ID:          id,
		Kind:        kind,
		Encrypted:   enc,
		UploadedRef: r.UploadedRef,
		Stage:       stage,
		LastError:   r.LastError,
		Retryable:   r.Retryable,
		CreatedAt:   time.UnixMilli(r.CreatedAt),
		UpdatedAt:   time.UnixMilli(r.UpdatedAt),
	}, nil
}

func draftToRow(d *Draft) (*store.DraftRow, error) {
	var caption string
	if d.Caption != nil {
		b, err := json.Marshal(d.Caption)
		if err != nil {
			return nil, fmt.Errorf("encode caption: %w", err)
		}
		caption = string(b)
	}
	return &store.DraftRow{
		ID:               d.ID.String(),
		PendingID:        d.PendingID.String(),
		TribeID:          d.TribeID,
		ContextMessageID: d.ContextMessageID,
		Caption:          caption,
		Tag:              d.Tag,
		Status:           string(d.Status),
		ServerMsgID:      d.ServerMsgID,
		Timestamp:        d.Timestamp.UnixMilli(),
	}, nil
}

func draftFromRow(r store.DraftRow) (Draft, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return Draft{}, fmt.Errorf("draft id %q: %w", r.ID, err)
	}
	pid, err := uuid.Parse(r.PendingID)
	if err != nil {
		return Draft{}, fmt.Errorf("draft %s pending id %q: %w", r.ID, r.PendingID, err)
	}
	var caption *crypto.EncryptedContent
	if r.Caption != "" {
		caption = new(crypto.EncryptedContent)
		if err := json.Unmarshal([]byte(r.Caption), caption); err != nil {
			return Draft{}, fmt.Errorf("draft %s: decode caption: %w", r.ID, err)
		}
	}
	return Draft{
		ID:               id,
		PendingID:        pid,
		TribeID:          r.TribeID,
		ContextMessageID: r.ContextMessageID,
		Caption:          caption,
		Tag:              r.Tag,
		Timestamp:        time.UnixMilli(r.Timestamp),
		UpdatedAt:        time.UnixMilli(r.UpdatedAt),
		Status:           Status(r.Status),
		ServerMsgID:      r.ServerMsgID,
	}, nil
}

func draftsFromRows(rows []store.DraftRow) ([]Draft, error) {
	out := make([]Draft, 0, len(rows))
	for _, r := range rows {
		d, err := draftFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
