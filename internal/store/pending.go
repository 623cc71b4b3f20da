package store

import (
	"database/sql"
	"errors"
	"time"
)

// UpsertPending inserts or updates a staged content row.
func (db *DB) UpsertPending(p *PendingRow) error {
	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	_, err := db.Exec(`
		INSERT INTO pending_content (id, kind, encrypted, uploaded_ref, stage, last_error, retryable, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			encrypted = excluded.encrypted,
			uploaded_ref = excluded.uploaded_ref,
			stage = excluded.stage,
			last_error = excluded.last_error,
			retryable = excluded.retryable,
			updated_at = excluded.updated_at`,
		p.ID, p.Kind, p.Encrypted, p.UploadedRef, p.Stage, p.LastError, p.Retryable, p.CreatedAt, now)
	if err == nil {
		p.UpdatedAt = now
	}
	return err
}

// GetPending returns a staged content row by id, or nil if absent.
func (db *DB) GetPending(id string) (*PendingRow, error) {
	var p PendingRow
	err := db.QueryRow(`
		SELECT id, kind, encrypted, uploaded_ref, stage, last_error, retryable, created_at, updated_at
		FROM pending_content WHERE id = ?`, id).
		Scan(&p.ID, &p.Kind, &p.Encrypted, &p.UploadedRef, &p.Stage, &p.LastError, &p.Retryable, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPending returns all staged content rows, oldest first.
func (db *DB) ListPending() ([]PendingRow, error) {
	rows, err := db.Query(`
		SELECT id, kind, encrypted, uploaded_ref, stage, last_error, retryable, created_at, updated_at
		FROM pending_content ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []PendingRow
	for rows.Next() {
		var p PendingRow
		if err := rows.Scan(&p.ID, &p.Kind, &p.Encrypted, &p.UploadedRef, &p.Stage, &p.LastError, &p.Retryable, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePending removes a staged content row.
func (db *DB) DeletePending(id string) error {
	_, err := db.Exec(`DELETE FROM pending_content WHERE id = ?`, id)
	return err
}
