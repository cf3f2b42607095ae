// Package engine executes routing decisions: it resolves auth, calls the
// chosen provider, and runs the typed fallback protocol — including the
// Anthropic-429 immediate reroute and the per-user cool-down that makes the
// reroute preemptive on later requests.
package engine

import (
	"sync"
	"time"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Cool-down Map ──────────────────────────────────────────────────────────

// Cooldowns tracks per-user provider exclusions. Reads take the lock-free
// fast path through sync.Map; writes are strictly ordered by wall-clock via
// a short lock. An entry is live iff now < expires_at.
type Cooldowns struct {
	entries sync.Map // key string → domain.CooldownEntry

	writeMu sync.Mutex
	now     func() time.Time
}

// NewCooldowns creates the map with an injectable clock.
func NewCooldowns(now func() time.Time) *Cooldowns {
	if now == nil {
		now = time.Now
	}
	return &Cooldowns{now: now}
}

// Set inserts or refreshes an entry for the user key.
func (c *Cooldowns) Set(key, kind string, ttl time.Duration) domain.CooldownEntry {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	entry := domain.CooldownEntry{
		Key:       key,
		Kind:      kind,
		ExpiresAt: c.now().Add(ttl),
	}
	c.entries.Store(key, entry)
	return entry
}

// Active reports whether the user key has a live entry, dropping the entry
// when it has expired.
func (c *Cooldowns) Active(key string) bool {
	v, ok := c.entries.Load(key)
	if !ok {
		return false
	}
	entry := v.(domain.CooldownEntry)
	if entry.Live(c.now()) {
		return true
	}
	c.entries.CompareAndDelete(key, v)
	return false
}

// LiveCount returns the number of currently live entries. Expired entries
// not yet touched by Active are swept here.
func (c *Cooldowns) LiveCount() int {
	now := c.now()
	count := 0
	c.entries.Range(func(k, v any) bool {
		entry := v.(domain.CooldownEntry)
		if entry.Live(now) {
			count++
		} else {
			c.entries.CompareAndDelete(k, v)
		}
		return true
	})
	return count
}
