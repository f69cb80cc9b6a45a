// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     cognition
// Description: Duplicate request cache
// Created:     2025-12-09
// License:     MIT
// ============================================================================

package cognition

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Key returns the cache key for a prompt
func Key(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

type dedupEntry struct {
	at   time.Time
	resp Response
}

// Deduplicator remembers completed responses for a TTL window.
// Record is the only write path; expired entries are evicted lazily.
type Deduplicator struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]dedupEntry
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// DedupStats holds cache counters
type DedupStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// NewDeduplicator creates a cache with the given TTL
func NewDeduplicator(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &Deduplicator{
		ttl:     ttl,
		entries: make(map[string]dedupEntry),
		now:     time.Now,
	}
}

// IsDuplicate reports whether key has a live entry
func (d *Deduplicator) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.lookupLocked(key)
	return ok
}

// Get returns the cached response for key
func (d *Deduplicator) Get(key string) (Response, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp, ok := d.lookupLocked(key)
	if ok {
		d.hits++
	} else {
		d.misses++
	}
	return resp, ok
}

// Record stores resp under key
func (d *Deduplicator) Record(key string, resp Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evictLocked()
	d.entries[key] = dedupEntry{at: d.now(), resp: resp}
}

// Len returns the number of live entries
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evictLocked()
	return len(d.entries)
}

// Stats returns a snapshot
func (d *Deduplicator) Stats() DedupStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evictLocked()
	return DedupStats{Entries: len(d.entries), Hits: d.hits, Misses: d.misses}
}

func (d *Deduplicator) lookupLocked(key string) (Response, bool) {
	d.evictLocked()
	e, ok := d.entries[key]
	return e.resp, ok
}

func (d *Deduplicator) evictLocked() {
	cutoff := d.now().Add(-d.ttl)
	for k, e := range d.entries {
		if !e.at.After(cutoff) {
			delete(d.entries, k)
		}
	}
}
