// Package cache persists decoded objects on disk and evicts entries that
// have not been read for longer than the expiry window.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/matheus3301/tribe/internal/bus"
	"github.com/matheus3301/tribe/internal/keystore"
)

// DefaultExpiry is how long an unread entry is kept.
const DefaultExpiry = 10 * 24 * time.Hour

// TrimReport is the payload of cache.trimmed events.
type TrimReport struct {
	Removed int
	At      time.Time
}

// Cache combines the payload store and the access tracker.
type Cache struct {
	store   *Store
	tracker *Tracker
	expiry  time.Duration
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New opens a cache rooted at dir with its tracker in ks.
func New(dir string, ks keystore.Store, expiry time.Duration, b *bus.Bus, logger *zap.Logger) (*Cache, error) {
	st, err := NewStore(dir)
	if err != nil {
		return nil, err
	}
	tr, err := LoadTracker(ks)
	if err != nil {
		return nil, err
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:   st,
		tracker: tr,
		expiry:  expiry,
		bus:     b,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Get decodes the entry for key into T. Missing, unreadable or undecodable
// entries are misses; a hit refreshes the entry's access time.
func Get[T any](c *Cache, key string) (T, bool) {
	var v T
	b, err := c.store.Read(key)
	if err != nil {
		c.logger.Debug("cache read failed", zap.String("key", key), zap.Error(err))
		return v, false
	}
	if b == nil {
		return v, false
	}
	if err := cbor.Unmarshal(b, &v); err != nil {
		c.logger.Debug("cache entry undecodable", zap.String("key", key), zap.Error(err))
		var zero T
		return zero, false
	}
	if err := c.tracker.Touch(key, c.now()); err != nil {
		c.logger.Warn("cache tracker update failed", zap.String("key", key), zap.Error(err))
	}
	return v, true
}

// Set encodes v and stores it under key. Concurrent writers of a key are
// last-write-wins.
func Set[T any](c *Cache, key string, v T) error {
	b, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	if err := c.store.Write(key, b); err != nil {
		return fmt.Errorf("cache write %q: %w", key, err)
	}
	return c.tracker.Touch(key, c.now())
}

// Delete removes key and its access record.
func (c *Cache) Delete(key string) error {
	if err := c.store.Remove(key); err != nil {
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return c.tracker.Forget(key)
}

// TrimStaleData removes entries last read more than the expiry window before
// now and returns how many payloads were removed. Running it again is a
// no-op. An entry written after the scan started survives, and an entry whose
// removal fails stays tracked for the next run.
func (c *Cache) TrimStaleData(now time.Time) (int, error) {
	cutoff := now.Add(-c.expiry)
	stale := c.tracker.Stale(cutoff)
	if len(stale) == 0 {
		return 0, nil
	}
	dropped, err := c.tracker.ForgetIfStale(stale, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache trim: %w", err)
	}
	n := 0
	for _, rec := range dropped {
		removed, err := c.store.RemoveOlderThan(rec.Key, cutoff)
		if err != nil {
			c.logger.Warn("cache trim remove failed", zap.String("key", rec.Key), zap.Error(err))
			if err := c.tracker.Reinstate(rec); err != nil {
				c.logger.Error("cache tracker reinstate failed", zap.String("key", rec.Key), zap.Error(err))
			}
			continue
		}
		if removed {
			n++
			continue
		}
		// Rewritten after the scan; keep it tracked.
		if b, _ := c.store.Read(rec.Key); b != nil {
			_ = c.tracker.Touch(rec.Key, c.now())
		}
	}
	c.logger.Info("cache trimmed", zap.Int("removed", n), zap.Int("stale", len(dropped)))
	c.bus.Emit(bus.CacheTrimmed, TrimReport{Removed: n, At: now})
	return n, nil
}

// Records exposes the tracker records, oldest first.
func (c *Cache) Records() []Record { return c.tracker.Records() }

// Start trims once immediately and then every interval.
func (c *Cache) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx, interval)
}

// Stop stops the trim loop.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *Cache) loop(ctx context.Context, interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.TrimStaleData(c.now()); err != nil {
			c.logger.Error("cache trim failed", zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
