package store

import (
	"database/sql"
	"errors"
	"time"
)

const draftColumns = `id, pending_id, tribe_id, context_message_id, caption, tag, status, server_msg_id, timestamp, updated_at`

// InsertDraft stores a new outgoing message draft.
func (db *DB) InsertDraft(d *DraftRow) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO message_drafts (`+draftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.PendingID, d.TribeID, d.ContextMessageID, d.Caption, d.Tag, d.Status, d.ServerMsgID, d.Timestamp, now)
	if err == nil {
		d.UpdatedAt = now
	}
	return err
}

// SetDraftStatusForPending updates every draft referencing pendingID and returns the number changed.
func (db *DB) SetDraftStatusForPending(pendingID, status string) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`UPDATE message_drafts SET status = ?, updated_at = ? WHERE pending_id = ? AND status != 'posted'`,
		status, now, pendingID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkDraftPosted records the server acknowledgement for a draft.
func (db *DB) MarkDraftPosted(id, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE message_drafts SET status = 'posted', server_msg_id = ?, updated_at = ? WHERE id = ?`,
		serverMsgID, now, id)
	return err
}

// GetDraft returns a draft by id, or nil if absent.
func (db *DB) GetDraft(id string) (*DraftRow, error) {
	var d DraftRow
	err := db.QueryRow(`SELECT `+draftColumns+` FROM message_drafts WHERE id = ?`, id).
		Scan(&d.ID, &d.PendingID, &d.TribeID, &d.ContextMessageID, &d.Caption, &d.Tag, &d.Status, &d.ServerMsgID, &d.Timestamp, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DraftsForPending returns unposted drafts in any tribe that reference pendingID.
func (db *DB) DraftsForPending(pendingID string) ([]DraftRow, error) {
	return db.queryDrafts(`WHERE pending_id = ? AND status != 'posted' ORDER BY timestamp ASC`, pendingID)
}

// DraftsByTribe returns all drafts of a tribe, oldest first.
func (db *DB) DraftsByTribe(tribeID string) ([]DraftRow, error) {
	return db.queryDrafts(`WHERE tribe_id = ? ORDER BY timestamp ASC`, tribeID)
}

// DraftsByStatus returns drafts across all tribes with the given status.
func (db *DB) DraftsByStatus(status string) ([]DraftRow, error) {
	return db.queryDrafts(`WHERE status = ? ORDER BY timestamp ASC`, status)
}

// DeleteDraftsForPending removes every draft referencing pendingID.
func (db *DB) DeleteDraftsForPending(pendingID string) error {
	_, err := db.Exec(`DELETE FROM message_drafts WHERE pending_id = ?`, pendingID)
	return err
}

func (db *DB) queryDrafts(where string, args ...any) ([]DraftRow, error) {
	rows, err := db.Query(`SELECT `+draftColumns+` FROM message_drafts `+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []DraftRow
	for rows.Next() {
		var d DraftRow
		if err := rows.Scan(&d.ID, &d.PendingID, &d.TribeID, &d.ContextMessageID, &d.Caption, &d.Tag, &d.Status, &d.ServerMsgID, &d.Timestamp, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
