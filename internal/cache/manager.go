// Package cache provides the two-tier embedding cache: a bounded in-process
// LRU fast tier over a durable SQLite tier keyed by normalized input text.
// The fast tier is strictly a derived, rebuildable view of the durable tier;
// only writes from the current process that have not flushed yet may exist
// in the fast tier alone, which is an accepted bounded loss window on crash.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCapacity is the fast-tier entry bound.
	DefaultCapacity = 1000
	// DefaultTTL is how long a durable entry stays valid.
	DefaultTTL = 30 * 24 * time.Hour
)

// Record is the persisted value of one embedding computation.
type Record struct {
	// Vector is the fixed-dimension L2-normalized embedding.
	Vector []float32
	// ModelID identifies the model that produced the vector. Vectors from
	// different models must never be compared.
	ModelID string
	// CreatedAt is when the vector was computed; TTL expiry keys off it.
	CreatedAt time.Time
}

// Entry wraps a Record with access metadata maintained by the cache.
type Entry struct {
	Record
	// LastAccessed is refreshed on every hit.
	LastAccessed time.Time
	// AccessCount counts hits since the entry was written.
	AccessCount int64
}

// Stats is the counter snapshot returned by Manager.Stats.
type Stats struct {
	// Size is the number of durable entries (fast-tier count when the
	// durable tier is unavailable).
	Size int
	// Hits and Misses count lookups since process start.
	Hits   int64
	Misses int64
}

// Config holds Manager tuning.
type Config struct {
	// Capacity bounds the fast tier; LRU eviction beyond it.
	Capacity int
	// TTL bounds durable entry age; older entries behave as misses.
	TTL time.Duration
}

// Manager is the two-tier cache. Lookups go fast tier, then durable tier
// (promoting on hit), then miss. Durable-tier failures never fail a lookup
// or a write: they degrade to miss/compute-fresh with a warning, so running
// without usable on-device storage still works.
type Manager struct {
	log   *slog.Logger
	store *Store // may be nil when durable storage is unavailable
	fast  *lru.Cache[string, *Entry]
	ttl   time.Duration

	// mu guards access metadata on entries shared through the fast tier.
	mu sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

// NewManager constructs a Manager over store. store may be nil, leaving only
// the fast tier active.
func NewManager(cfg Config, store *Store, log *slog.Logger) (*Manager, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}

	fast, err := lru.New[string, *Entry](cfg.Capacity)
	if err != nil {
		return nil, err
	}
	return &Manager{
		log:   log,
		store: store,
		fast:  fast,
		ttl:   cfg.TTL,
	}, nil
}

// NormalizeKey canonicalizes text for use as a cache key: lowercased with
// runs of whitespace collapsed to single spaces. Semantically identical
// requests that differ only in casing or spacing share one entry.
func NormalizeKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Get returns the entry for key, or (nil, false) on miss. Expired entries
// behave exactly like misses in both tiers; an expired fast-tier copy is
// dropped and the lookup falls through to the durable tier, which may hold
// a newer row. A durable hit is promoted into the fast tier so the next
// lookup is in-process. The returned entry is a snapshot the caller owns.
func (m *Manager) Get(ctx context.Context, key string) (*Entry, bool) {
	k := NormalizeKey(key)
	now := time.Now()

	if e, ok := m.fast.Get(k); ok {
		if now.Sub(e.CreatedAt) > m.ttl {
			m.fast.Remove(k)
		} else {
			m.mu.Lock()
			e.LastAccessed = now
			e.AccessCount++
			snap := *e
			m.mu.Unlock()
			m.touchDurable(ctx, k, &snap)
			m.hits.Add(1)
			return &snap, true
		}
	}

	if m.store == nil {
		m.misses.Add(1)
		return nil, false
	}

	e, err := m.store.Get(ctx, k)
	if err != nil {
		m.log.Warn("cache: durable lookup failed, degrading to miss",
			slog.String("error", err.Error()))
		m.misses.Add(1)
		return nil, false
	}
	if e == nil {
		m.misses.Add(1)
		return nil, false
	}
	if now.Sub(e.CreatedAt) > m.ttl {
		// Expired rows are misses; removal is opportunistic and best-effort.
		if err := m.store.Delete(ctx, k); err != nil {
			m.log.Warn("cache: expired entry removal failed",
				slog.String("error", err.Error()))
		}
		m.misses.Add(1)
		return nil, false
	}

	e.LastAccessed = now
	e.AccessCount++
	snap := *e
	m.touchDurable(ctx, k, &snap)
	m.fast.Add(k, e) // promotion
	m.hits.Add(1)
	return &snap, true
}

// Set stores rec under key in both tiers. The durable write happens first;
// if it fails the entry still lands in the fast tier and a warning is
// logged, accepting the bounded crash-loss window.
func (m *Manager) Set(ctx context.Context, key string, rec Record) {
	k := NormalizeKey(key)
	e := &Entry{
		Record:       rec,
		LastAccessed: time.Now(),
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = e.LastAccessed
	}

	if m.store != nil {
		if err := m.store.Put(ctx, k, e); err != nil {
			m.log.Warn("cache: durable write failed, entry is fast-tier only",
				slog.String("error", err.Error()))
		}
	}
	m.fast.Add(k, e)
}

// Clear empties both tiers. The durable removal runs as a single
// transaction; on failure the fast tier is purged anyway (it is rebuildable)
// and the error is returned so the caller can retry.
func (m *Manager) Clear(ctx context.Context) error {
	m.fast.Purge()
	if m.store == nil {
		return nil
	}
	return m.store.Clear(ctx)
}

// Sweep removes entries older than the TTL from both tiers and reports the
// durable removal count. Dropping the fast-tier copies keeps the fast tier a
// strict view of live durable rows.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-m.ttl)
	for _, k := range m.fast.Keys() {
		if e, ok := m.fast.Peek(k); ok && e.CreatedAt.Before(cutoff) {
			m.fast.Remove(k)
		}
	}
	if m.store == nil {
		return 0, nil
	}
	n, err := m.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Debug("cache: ttl sweep removed entries", slog.Int64("removed", n))
	}
	return n, nil
}

// Stats returns the lookup counters and the current entry count.
func (m *Manager) Stats(ctx context.Context) Stats {
	size := m.fast.Len()
	if m.store != nil {
		if n, err := m.store.Count(ctx); err == nil {
			size = n
		}
	}
	return Stats{
		Size:   size,
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
	}
}

// Close releases the durable tier.
func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

// touchDurable propagates refreshed access metadata, best-effort.
func (m *Manager) touchDurable(ctx context.Context, key string, e *Entry) {
	if m.store == nil {
		return
	}
	if err := m.store.Touch(ctx, key, e.LastAccessed, e.AccessCount); err != nil {
		m.log.Debug("cache: access metadata update failed",
			slog.String("error", err.Error()))
	}
}
