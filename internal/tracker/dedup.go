package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/opencli/opencli/internal/clock"
	"github.com/opencli/opencli/internal/codec"
	"github.com/opencli/opencli/internal/stream"
)

// DefaultDedupTTL is how long a wire message key is remembered.
const DefaultDedupTTL = 10 * time.Minute

// DedupStore remembers when keys were first seen and forgets them after
// a TTL. Eviction happens only in Sweep.
type DedupStore struct {
	clock clock.Clock
	ttl   time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDedupStore returns an empty store.
func NewDedupStore(c clock.Clock, ttl time.Duration) *DedupStore {
	if c == nil {
		c = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &DedupStore{clock: c, ttl: ttl, seen: make(map[string]time.Time)}
}

// Seen records key and reports whether it was already present and
// unexpired.
func (d *DedupStore) Seen(key string) bool {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if first, ok := d.seen[key]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Sweep evicts expired keys and returns how many were removed.
func (d *DedupStore) Sweep() int {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for key, first := range d.seen {
		if now.Sub(first) >= d.ttl {
			delete(d.seen, key)
			n++
		}
	}
	return n
}

// Len returns the number of remembered keys.
func (d *DedupStore) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (d *DedupStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = d.ttl / 2
	}
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}

// messageKey identifies a wire message for duplicate filtering. Only
// acks and updates are keyed. The payload digest keeps id-less updates
// for different tasks of the same type apart.
func messageKey(ev stream.Event) (string, bool) {
	if ev.Message == nil {
		return "", false
	}
	m := ev.Message
	switch ev.Kind {
	case stream.EventTaskSubmitted, stream.EventTaskUpdate:
	default:
		return "", false
	}
	body, err := codec.Marshal(m.Result)
	if err != nil {
		return "", false
	}
	digest := sha256.Sum256(body)
	return strings.Join([]string{
		string(m.Type), m.ClientTaskID, m.TaskID, string(m.Status),
		m.TaskType, m.ErrorText(), hex.EncodeToString(digest[:]),
	}, "|"), true
}

// Consume feeds session events into t until events is closed or ctx is
// done. Exact wire duplicates are dropped when dedup is non-nil. Each
// event is also passed to observe, when set, after the tracker saw it.
func (t *Tracker) Consume(ctx context.Context, events <-chan stream.Event, dedup *DedupStore, observe func(stream.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if key, ok := messageKey(ev); ok && dedup != nil && dedup.Seen(key) {
				t.logger.Debug("dropping duplicate message", "key", key)
				continue
			}
			t.Handle(ev)
			if observe != nil {
				observe(ev)
			}
		}
	}
}
