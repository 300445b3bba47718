package whale

import (
	"sync"
	"time"
)

// Dedup remembers transaction hashes for a TTL so the pending and mined
// sightings of one transaction produce a single intent. It holds at most
// capacity entries; the oldest are evicted first. Safe for concurrent use.
type Dedup struct {
	seen     map[string]time.Time // hash -> first seen
	order    []string
	ttl      time.Duration
	capacity int
	mu       sync.Mutex
}

// NewDedup creates a Dedup with the given ttl and capacity.
func NewDedup(ttl time.Duration, capacity int) *Dedup {
	if capacity < 1 {
		capacity = 1
	}
	return &Dedup{
		seen:     make(map[string]time.Time),
		ttl:      ttl,
		capacity: capacity,
	}
}

// IsDuplicate returns true if hash was recorded within the TTL. Otherwise it
// records hash at now and returns false.
func (d *Dedup) IsDuplicate(hash string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cleanupLocked(now)
	if _, ok := d.seen[hash]; ok {
		return true
	}
	for len(d.order) >= d.capacity {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	d.seen[hash] = now
	d.order = append(d.order, hash)
	return false
}

// cleanupLocked drops entries older than the TTL. Entries are appended in
// time order, so expiry only ever trims the front.
func (d *Dedup) cleanupLocked(now time.Time) {
	i := 0
	for i < len(d.order) && now.Sub(d.seen[d.order[i]]) >= d.ttl {
		delete(d.seen, d.order[i])
		i++
	}
	if i > 0 {
		d.order = append(d.order[:0], d.order[i:]...)
	}
}

// Len returns the number of remembered hashes.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
