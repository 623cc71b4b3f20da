package cache

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/tribe/internal/keystore"
)

// TrackerKey is the keystore key holding the access records.
const TrackerKey = "cache.tracker"

// touchGranularity skips rewriting the tracker for repeated reads of a hot key.
const touchGranularity = time.Minute

// Record is the last access time of one cache key.
type Record struct {
	Key          string    `json:"key"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Tracker keeps records ordered by LastAccessed, oldest first, so eviction
// scans stop at the first fresh record and never list the payload directory.
type Tracker struct {
	ks keystore.Store

	mu      sync.Mutex
	records []Record
}

// LoadTracker reads the persisted records.
func LoadTracker(ks keystore.Store) (*Tracker, error) {
	recs, _, err := keystore.Get[[]Record](ks, TrackerKey)
	if err != nil {
		return nil, fmt.Errorf("load cache tracker: %w", err)
	}
	slices.SortStableFunc(recs, func(a, b Record) int { return a.LastAccessed.Compare(b.LastAccessed) })
	return &Tracker{ks: ks, records: recs}, nil
}

// Touch records an access to key at now.
func (t *Tracker) Touch(key string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.index(key); i >= 0 {
		if now.Sub(t.records[i].LastAccessed) < touchGranularity {
			return nil
		}
		t.records = slices.Delete(t.records, i, i+1)
	}
	// Keep the order even if now is earlier than the newest record.
	at, _ := slices.BinarySearchFunc(t.records, now, func(r Record, ts time.Time) int {
		return r.LastAccessed.Compare(ts)
	})
	t.records = slices.Insert(t.records, at, Record{Key: key, LastAccessed: now})
	return t.save()
}

// Forget drops the record for key.
func (t *Tracker) Forget(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.index(key)
	if i < 0 {
		return nil
	}
	t.records = slices.Delete(t.records, i, i+1)
	return t.save()
}

// Stale returns the keys last accessed before cutoff.
func (t *Tracker) Stale(cutoff time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var keys []string
	for _, r := range t.records {
		if !r.LastAccessed.Before(cutoff) {
			break
		}
		keys = append(keys, r.Key)
	}
	return keys
}

// ForgetIfStale drops the records of keys still last accessed before cutoff
// and returns the dropped records. Keys touched since Stale are kept.
func (t *Tracker) ForgetIfStale(keys []string, cutoff time.Time) ([]Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var dropped []Record
	for _, key := range keys {
		i := t.index(key)
		if i < 0 || !t.records[i].LastAccessed.Before(cutoff) {
			continue
		}
		dropped = append(dropped, t.records[i])
		t.records = slices.Delete(t.records, i, i+1)
	}
	if len(dropped) == 0 {
		return nil, nil
	}
	return dropped, t.save()
}

// Reinstate puts back a dropped record unless key was touched since.
func (t *Tracker) Reinstate(r Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.index(r.Key) >= 0 {
		return nil
	}
	at, _ := slices.BinarySearchFunc(t.records, r.LastAccessed, func(rec Record, ts time.Time) int {
		return rec.LastAccessed.Compare(ts)
	})
	t.records = slices.Insert(t.records, at, r)
	return t.save()
}

// Records returns a copy of the records, oldest first.
func (t *Tracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.records)
}

func (t *Tracker) index(key string) int {
	return slices.IndexFunc(t.records, func(r Record) bool { return r.Key == key })
}

// save persists the records. t.mu must be held.
func (t *Tracker) save() error {
	return keystore.Set(t.ks, TrackerKey, t.records)
}
