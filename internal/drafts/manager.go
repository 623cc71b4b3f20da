// Package drafts tracks staged content from encryption through upload to a
// posted message, and the drafts that reference it in every tribe.
package drafts

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/tribe/internal/bus"
	"github.com/matheus3301/tribe/internal/content"
	"github.com/matheus3301/tribe/internal/crypto"
	"github.com/matheus3301/tribe/internal/store"
	"github.com/matheus3301/tribe/internal/upload"
)

var (
	ErrUnknownPending = errors.New("drafts: unknown pending content")
	ErrNotRetryable   = errors.New("drafts: upload was rejected and cannot be retried")
)

// Encrypter seals content for the current tribe members.
type Encrypter interface {
	Encrypt(raw content.Raw, recipients []crypto.PublicKey) (crypto.EncryptedContent, error)
	EncryptBytes(plaintext []byte, recipients []crypto.PublicKey) (crypto.EncryptedContent, error)
}

// Poster sends a complete draft to the server and returns the server's message id.
type Poster interface {
	Post(ctx context.Context, d Draft, p Pending) (string, error)
}

// InlineRef is the reference recorded for content that needs no upload.
func InlineRef(id uuid.UUID) string { return "inline:" + id.String() }

// Options tunes a Manager.
type Options struct {
	StuckAfter time.Duration
	Now        func() time.Time
}

type flight struct {
	cancel context.CancelFunc
}

// Manager owns the set of pending content items. Other components read it
// through the accessor methods only.
type Manager struct {
	db         *store.DB
	enc        Encrypter
	gw         upload.Gateway
	poster     Poster
	bus        *bus.Bus
	log        *zap.Logger
	stuckAfter time.Duration
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  map[uuid.UUID]*Pending
	inflight map[uuid.UUID]*flight
	posting  map[uuid.UUID]bool
}

// NewManager creates a manager. Call Restore to load persisted items.
func NewManager(db *store.DB, enc Encrypter, gw upload.Gateway, poster Poster, b *bus.Bus, log *zap.Logger, opts Options) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = 2 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		db:         db,
		enc:        enc,
		gw:         gw,
		poster:     poster,
		bus:        b,
		log:        log,
		stuckAfter: opts.StuckAfter,
		now:        opts.Now,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[uuid.UUID]*Pending),
		inflight:   make(map[uuid.UUID]*flight),
		posting:    make(map[uuid.UUID]bool),
	}
}

// Stage encrypts raw for recipients and records it as pending. Text and
// notes are Uploaded on return; media uploads continue in the background.
func (m *Manager) Stage(ctx context.Context, raw content.Raw, recipients []crypto.PublicKey) (Pending, error) {
	if raw == nil {
		return Pending{}, errors.New("drafts: nil content")
	}
	if err := ctx.Err(); err != nil {
		return Pending{}, err
	}

	now := m.now()
	p := &Pending{
		ID:        uuid.New(),
		Kind:      raw.Kind(),
		Raw:       raw,
		Stage:     Created,
		Retryable: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.transition(Encrypting); err != nil {
		return Pending{}, err
	}
	enc, err := m.enc.Encrypt(raw, recipients)
	if err != nil {
		return Pending{}, fmt.Errorf("encrypt %s content: %w", p.Kind, err)
	}
	p.Encrypted = enc

	next := Uploading
	if p.Inline() {
		next = Uploaded
		p.UploadedRef = InlineRef(p.ID)
	}
	if err := p.transition(next); err != nil {
		return Pending{}, err
	}

	m.mu.Lock()
	if err := m.persist(p); err != nil {
		m.mu.Unlock()
		return Pending{}, err
	}
	m.pending[p.ID] = p
	if next == Uploading {
		m.startUpload(p)
	}
	snap := *p
	m.mu.Unlock()

	m.log.Info("content staged",
		zap.String("pending_id", p.ID.String()),
		zap.String("kind", string(p.Kind)),
		zap.String("stage", string(snap.Stage)),
	)
	m.bus.Emit(bus.DraftUpdated, Update{PendingID: p.ID, Stage: snap.Stage})
	return snap, nil
}

// Compose attaches a new draft for a tribe to a pending item. If the content
// is already uploaded the draft is posted before Compose returns; a failed
// post leaves the draft for the outbox to retry.
func (m *Manager) Compose(ctx context.Context, in DraftInput) (Draft, error) {
	if in.TribeID == "" {
		return Draft{}, errors.New("drafts: tribe id is required")
	}
	var caption *crypto.EncryptedContent
	if in.Caption != "" {
		if len(in.Recipients) == 0 {
			return Draft{}, errors.New("drafts: caption requires recipients")
		}
		sealed, err := m.enc.EncryptBytes([]byte(in.Caption), in.Recipients)
		if err != nil {
			return Draft{}, fmt.Errorf("encrypt caption: %w", err)
		}
		caption = &sealed
	}

	m.mu.Lock()
	p, ok := m.pending[in.PendingID]
	if !ok {
		m.mu.Unlock()
		return Draft{}, ErrUnknownPending
	}
	now := m.now()
	d := Draft{
		ID:               uuid.New(),
		PendingID:        in.PendingID,
		TribeID:          in.TribeID,
		ContextMessageID: in.ContextMessageID,
		Caption:          caption,
		Tag:              in.Tag,
		Timestamp:        now,
		UpdatedAt:        now,
		Status:           StatusUploading,
	}
	if p.Stage == Failed {
		d.Status = StatusFailedToUpload
	}
	row, err := draftToRow(&d)
	if err != nil {
		m.mu.Unlock()
		return Draft{}, err
	}
	if err := m.db.InsertDraft(row); err != nil {
		m.mu.Unlock()
		return Draft{}, fmt.Errorf("insert draft: %w", err)
	}
	ready := p.IsUploaded()
	m.mu.Unlock()

	m.bus.Emit(bus.DraftUpdated, Update{PendingID: d.PendingID, DraftID: d.ID, Status: d.Status})
	if !ready {
		return d, nil
	}

	m.postDrafts(ctx, d.PendingID)
	row, err = m.db.GetDraft(d.ID.String())
	if err != nil || row == nil {
		return d, err
	}
	return draftFromRow(*row)
}

// Retry restarts the upload of a pending item using its stored ciphertext.
// Any upload still in flight for the item is cancelled first.
func (m *Manager) Retry(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	p, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownPending
	}
	if p.IsUploaded() {
		m.mu.Unlock()
		m.postDrafts(ctx, id)
		return nil
	}
	if p.Stage == Failed && !p.Retryable {
		m.mu.Unlock()
		return ErrNotRetryable
	}
	if err := p.transition(Uploading); err != nil {
		m.mu.Unlock()
		return err
	}
	p.LastError = ""
	if err := m.persist(p); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, err := m.db.SetDraftStatusForPending(id.String(), string(StatusUploading)); err != nil {
		m.log.Error("reset draft status", zap.String("pending_id", id.String()), zap.Error(err))
	}
	m.startUpload(p)
	m.mu.Unlock()

	m.log.Info("upload retried", zap.String("pending_id", id.String()))
	m.bus.Emit(bus.DraftUpdated, Update{PendingID: id, Stage: Uploading, Status: StatusUploading})
	return nil
}

// Discard cancels any in-flight upload and removes the item and its drafts.
func (m *Manager) Discard(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	if _, ok := m.pending[id]; !ok {
		m.mu.Unlock()
		return ErrUnknownPending
	}
	if f, ok := m.inflight[id]; ok {
		f.cancel()
		delete(m.inflight, id)
	}
	delete(m.pending, id)
	m.mu.Unlock()

	if err := m.db.DeleteDraftsForPending(id.String()); err != nil {
		return fmt.Errorf("delete drafts: %w", err)
	}
	if err := m.db.DeletePending(id.String()); err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	m.log.Info("pending content discarded", zap.String("pending_id", id.String()))
	m.bus.Emit(bus.DraftUpdated, Update{PendingID: id, Error: "discarded"})
	return nil
}

// Restore loads persisted items. Media whose upload was interrupted by a
// restart comes back as Failed and retryable. Attached items with no unposted
// drafts left are consumed.
func (m *Manager) Restore(_ context.Context) (int, error) {
	rows, err := m.db.ListPending()
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range rows {
		p, err := pendingFromRow(r)
		if err != nil {
			m.log.Warn("skipping unreadable pending row", zap.String("pending_id", r.ID), zap.Error(err))
			continue
		}
		if p.Stage == Posted {
			_ = m.db.DeletePending(r.ID)
			continue
		}
		// Attached content whose drafts all posted before the restart was
		// never consumed. Uploaded items with no drafts yet are kept.
		if p.Stage == Attached {
			open, err := m.db.DraftsForPending(r.ID)
			if err != nil {
				return n, fmt.Errorf("drafts for pending %s: %w", r.ID, err)
			}
			if len(open) == 0 {
				if err := m.db.DeletePending(r.ID); err != nil {
					return n, fmt.Errorf("delete consumed pending %s: %w", r.ID, err)
				}
				m.log.Info("consumed posted pending content", zap.String("pending_id", r.ID))
				continue
			}
		}
		if !p.Inline() && !p.IsUploaded() && p.Stage != Failed {
			if err := p.transition(Failed); err != nil {
				m.log.Warn("restore transition", zap.String("pending_id", r.ID), zap.Error(err))
				continue
			}
			p.LastError = "upload interrupted"
			p.Retryable = true
			if err := m.persist(p); err != nil {
				return n, err
			}
			if _, err := m.db.SetDraftStatusForPending(r.ID, string(StatusFailedToUpload)); err != nil {
				return n, err
			}
		}
		m.pending[p.ID] = p
		n++
	}
	m.log.Info("pending content restored", zap.Int("count", n))
	return n, nil
}

// PostReady posts every unposted draft whose content is uploaded and returns
// how many were acknowledged.
func (m *Manager) PostReady(ctx context.Context) int {
	m.mu.Lock()
	var ids []uuid.UUID
	for id, p := range m.pending {
		if p.IsUploaded() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	posted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		posted += m.postDrafts(ctx, id)
	}
	return posted
}

// Pending returns a copy of the item with id.
func (m *Manager) Pending(id uuid.UUID) (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// List returns copies of all pending items, oldest first.
func (m *Manager) List() []Pending {
	m.mu.Lock()
	out := make([]Pending, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, *p)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b Pending) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Drafts returns the drafts of a tribe, oldest first.
func (m *Manager) Drafts(tribeID string) ([]Draft, error) {
	rows, err := m.db.DraftsByTribe(tribeID)
	if err != nil {
		return nil, err
	}
	return draftsFromRows(rows)
}

// StuckDrafts returns drafts that have been uploading for too long.
func (m *Manager) StuckDrafts(now time.Time) ([]Draft, error) {
	rows, err := m.db.DraftsByStatus(string(StatusUploading))
	if err != nil {
		return nil, err
	}
	all, err := draftsFromRows(rows)
	if err != nil {
		return nil, err
	}
	var stuck []Draft
	for _, d := range all {
		if d.IsStuckUploading(now, m.stuckAfter) {
			stuck = append(stuck, d)
		}
	}
	slices.SortFunc(stuck, func(a, b Draft) int { return cmp.Compare(a.Timestamp.UnixMilli(), b.Timestamp.UnixMilli()) })
	return stuck, nil
}

// Close cancels in-flight uploads and waits for them to return.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// startUpload launches the upload for p, replacing any previous flight.
// m.mu must be held.
func (m *Manager) startUpload(p *Pending) {
	if prev, ok := m.inflight[p.ID]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	f := &flight{cancel: cancel}
	m.inflight[p.ID] = f

	id, kind, payload := p.ID, p.Kind, p.Encrypted.Ciphertext
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		ref, err := m.gw.Upload(ctx, kind, id.String(), payload)
		m.finishUpload(f, id, ref, err)
	}()
}

func (m *Manager) finishUpload(f *flight, id uuid.UUID, ref string, uploadErr error) {
	m.mu.Lock()
	// Superseded by a retry, or discarded.
	if m.inflight[id] != f {
		m.mu.Unlock()
		return
	}
	delete(m.inflight, id)
	p, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if uploadErr != nil && m.ctx.Err() != nil {
		// Shutting down; Restore marks the item retryable on next start.
		m.mu.Unlock()
		return
	}

	if uploadErr != nil {
		_ = p.transition(Failed)
		p.LastError = uploadErr.Error()
		p.Retryable = upload.IsTemporary(uploadErr)
		if err := m.persist(p); err != nil {
			m.log.Error("persist failed upload", zap.String("pending_id", id.String()), zap.Error(err))
		}
		n, err := m.db.SetDraftStatusForPending(id.String(), string(StatusFailedToUpload))
		if err != nil {
			m.log.Error("mark drafts failed", zap.String("pending_id", id.String()), zap.Error(err))
		}
		retryable := p.Retryable
		m.mu.Unlock()

		m.log.Warn("upload failed",
			zap.String("pending_id", id.String()),
			zap.Bool("retryable", retryable),
			zap.Int64("drafts", n),
			zap.Error(uploadErr),
		)
		m.bus.Emit(bus.DraftFailed, Update{
			PendingID: id,
			Stage:     Failed,
			Status:    StatusFailedToUpload,
			Error:     uploadErr.Error(),
		})
		return
	}

	_ = p.transition(Uploaded)
	p.UploadedRef = ref
	p.LastError = ""
	if err := m.persist(p); err != nil {
		m.log.Error("persist uploaded", zap.String("pending_id", id.String()), zap.Error(err))
	}
	m.mu.Unlock()

	m.log.Info("upload complete", zap.String("pending_id", id.String()))
	m.bus.Emit(bus.DraftUpdated, Update{PendingID: id, Stage: Uploaded})
	m.postDrafts(m.ctx, id)
}

// postDrafts posts every unposted draft referencing id, across all tribes.
func (m *Manager) postDrafts(ctx context.Context, id uuid.UUID) int {
	m.mu.Lock()
	p, ok := m.pending[id]
	if !ok || !p.IsUploaded() {
		m.mu.Unlock()
		return 0
	}
	rows, err := m.db.DraftsForPending(id.String())
	if err != nil {
		m.mu.Unlock()
		m.log.Error("load drafts", zap.String("pending_id", id.String()), zap.Error(err))
		return 0
	}
	all, err := draftsFromRows(rows)
	if err != nil {
		m.mu.Unlock()
		m.log.Error("decode drafts", zap.String("pending_id", id.String()), zap.Error(err))
		return 0
	}
	var mine []Draft
	for _, d := range all {
		if !m.posting[d.ID] {
			m.posting[d.ID] = true
			mine = append(mine, d)
		}
	}
	if len(mine) > 0 && p.Stage == Uploaded {
		_ = p.transition(Attached)
		if err := m.persist(p); err != nil {
			m.log.Error("persist attached", zap.String("pending_id", id.String()), zap.Error(err))
		}
	}
	snap := *p
	m.mu.Unlock()

	var acked []Update
	for _, d := range mine {
		serverID, err := m.poster.Post(ctx, d, snap)
		if err == nil {
			err = m.db.MarkDraftPosted(d.ID.String(), serverID)
		}
		m.mu.Lock()
		delete(m.posting, d.ID)
		m.mu.Unlock()

		if err != nil {
			m.log.Warn("post draft failed",
				zap.String("draft_id", d.ID.String()),
				zap.String("tribe_id", d.TribeID),
				zap.Error(err),
			)
			m.bus.Emit(bus.DraftUpdated, Update{PendingID: id, DraftID: d.ID, Status: d.Status, Error: err.Error()})
			continue
		}
		m.log.Info("draft posted",
			zap.String("draft_id", d.ID.String()),
			zap.String("tribe_id", d.TribeID),
			zap.String("server_msg_id", serverID),
		)
		acked = append(acked, Update{PendingID: id, DraftID: d.ID, Status: StatusPosted})
	}

	if len(acked) > 0 {
		m.consumeIfDone(id)
	}
	for _, u := range acked {
		m.bus.Emit(bus.DraftPosted, u)
	}
	return len(acked)
}

// consumeIfDone drops the pending item once no unposted draft references it.
func (m *Manager) consumeIfDone(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok {
		return
	}
	rows, err := m.db.DraftsForPending(id.String())
	if err != nil || len(rows) > 0 {
		return
	}
	if err := p.transition(Posted); err != nil {
		m.log.Warn("consume", zap.String("pending_id", id.String()), zap.Error(err))
		return
	}
	delete(m.pending, id)
	if err := m.db.DeletePending(id.String()); err != nil {
		m.log.Error("delete consumed pending", zap.String("pending_id", id.String()), zap.Error(err))
	}
}

// persist writes p. m.mu must be held.
func (m *Manager) persist(p *Pending) error {
	row, err := pendingToRow(p)
	if err != nil {
		return err
	}
	if err := m.db.UpsertPending(row); err != nil {
		return fmt.Errorf("persist pending %s: %w", p.ID, err)
	}
	p.UpdatedAt = time.UnixMilli(row.UpdatedAt)
	return nil
}
