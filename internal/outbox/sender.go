package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/tribe/internal/bus"
	"github.com/matheus3301/tribe/internal/drafts"
)

// Drafts is the part of drafts.Manager the sender drives.
type Drafts interface {
	PostReady(ctx context.Context) int
	StuckDrafts(now time.Time) ([]drafts.Draft, error)
}

// Sender periodically posts drafts whose content is uploaded but whose post
// failed, and reports drafts stuck uploading.
type Sender struct {
	drafts   Drafts
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}

	mu       sync.Mutex
	reported map[uuid.UUID]bool
}

// NewSender creates a new outbox sender.
func NewSender(d Drafts, b *bus.Bus, interval time.Duration, logger *zap.Logger) *Sender {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		drafts:   d,
		bus:      b,
		logger:   logger,
		interval: interval,
		reported: make(map[uuid.UUID]bool),
	}
}

// Start begins polling for postable drafts.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for it to exit.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Drain runs one pass: post what is ready, then report newly stuck drafts.
func (s *Sender) Drain(ctx context.Context) {
	if n := s.drafts.PostReady(ctx); n > 0 {
		s.logger.Info("outbox drained", zap.Int("posted", n))
	}

	stuck, err := s.drafts.StuckDrafts(time.Now())
	if err != nil {
		s.logger.Error("failed to read stuck drafts", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := make(map[uuid.UUID]bool, len(stuck))
	for _, d := range stuck {
		current[d.ID] = true
		if s.reported[d.ID] {
			continue
		}
		s.logger.Warn("draft stuck uploading",
			zap.String("draft_id", d.ID.String()),
			zap.String("pending_id", d.PendingID.String()),
			zap.String("tribe_id", d.TribeID),
		)
		s.bus.Emit(bus.DraftStuck, drafts.Update{PendingID: d.PendingID, DraftID: d.ID, Status: d.Status})
	}
	s.reported = current
}
