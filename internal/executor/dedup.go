package executor

import (
	"sync"
	"time"
)

// Dedup suppresses repeat attempts at the same reveal job within a
// configurable time-to-live window. A failed attempt stays recorded, so
// the TTL doubles as the retry backoff; Forget clears one entry when an
// external signal says the job is worth trying again now. Safe for
// concurrent use.
type Dedup struct {
	seen map[string]time.Time // job key -> last attempt time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup instance that considers a job a duplicate if
// it has been attempted within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate returns true if the job key has been attempted within the
// TTL window. If the key has not been seen (or has expired), it is
// recorded and false is returned.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[key]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// Forget drops the record for one job key so the next IsDuplicate call
// admits it immediately.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Cleanup removes entries that have expired beyond the TTL. This should be
// called periodically to prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
