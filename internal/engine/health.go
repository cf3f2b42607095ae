package engine

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Provider Health ────────────────────────────────────────────────────────

// HealthState is the coarse per-provider status.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// outcome is one recorded call result.
type outcome struct {
	at time.Time
	ok bool
}

// Health tracks a sliding window of recent outcomes per provider kind and
// derives a coarse status. Degraded status lowers the provider's selection
// weight until the window clears. It also holds a per-provider client-side
// limiter that tightens while the provider is marked rate-limited.
type Health struct {
	mu      sync.RWMutex
	window  time.Duration
	now     func() time.Time
	history map[domain.ProviderKind][]outcome

	rateLimitedUntil map[domain.ProviderKind]time.Time
	limiters         map[domain.ProviderKind]*rate.Limiter
}

// NewHealth creates a tracker with the given sliding window (default 2 min).
func NewHealth(window time.Duration, now func() time.Time) *Health {
	if window <= 0 {
		window = 2 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Health{
		window:           window,
		now:              now,
		history:          make(map[domain.ProviderKind][]outcome),
		rateLimitedUntil: make(map[domain.ProviderKind]time.Time),
		limiters:         make(map[domain.ProviderKind]*rate.Limiter),
	}
}

// Record notes one call outcome for a provider kind.
func (h *Health) Record(kind domain.ProviderKind, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	hist := append(h.trimLocked(kind, now), outcome{at: now, ok: ok})
	h.history[kind] = hist
}

// MarkRateLimited flags a provider for a short window so the selector avoids
// re-picking it immediately, and throttles the client-side limiter.
func (h *Health) MarkRateLimited(kind domain.ProviderKind, window time.Duration) {
	if window <= 0 {
		window = 30 * time.Second
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rateLimitedUntil[kind] = h.now().Add(window)
	h.limiters[kind] = rate.NewLimiter(rate.Every(2*time.Second), 1)
}

// RateLimited reports whether the provider is inside a rate-limited window.
func (h *Health) RateLimited(kind domain.ProviderKind) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	until, ok := h.rateLimitedUntil[kind]
	return ok && h.now().Before(until)
}

// Allow consults the client-side limiter for a provider inside a
// rate-limited window. Providers outside such a window are always allowed.
func (h *Health) Allow(kind domain.ProviderKind) bool {
	h.mu.RLock()
	until, limited := h.rateLimitedUntil[kind]
	limiter := h.limiters[kind]
	h.mu.RUnlock()
	if !limited || !h.now().Before(until) || limiter == nil {
		return true
	}
	return limiter.Allow()
}

// State derives the coarse status from the window's success rate.
func (h *Health) State(kind domain.ProviderKind) HealthState {
	h.mu.Lock()
	hist := h.trimLocked(kind, h.now())
	h.history[kind] = hist
	h.mu.Unlock()

	if len(hist) < 3 {
		return Healthy
	}
	var ok int
	for _, o := range hist {
		if o.ok {
			ok++
		}
	}
	ratio := float64(ok) / float64(len(hist))
	switch {
	case ratio >= 0.9:
		return Healthy
	case ratio >= 0.5:
		return Degraded
	default:
		return Unhealthy
	}
}

// Weight returns the selection weight multiplier for a provider: 1 for
// healthy, reduced while degraded or unhealthy.
func (h *Health) Weight(kind domain.ProviderKind) float64 {
	switch h.State(kind) {
	case Degraded:
		return 0.5
	case Unhealthy:
		return 0.1
	default:
		return 1.0
	}
}

// States snapshots all tracked provider states.
func (h *Health) States() map[domain.ProviderKind]HealthState {
	h.mu.RLock()
	kinds := make([]domain.ProviderKind, 0, len(h.history))
	for k := range h.history {
		kinds = append(kinds, k)
	}
	h.mu.RUnlock()

	out := make(map[domain.ProviderKind]HealthState, len(kinds))
	for _, k := range kinds {
		out[k] = h.State(k)
	}
	return out
}

// trimLocked drops outcomes older than the window. Caller holds mu.
func (h *Health) trimLocked(kind domain.ProviderKind, now time.Time) []outcome {
	hist := h.history[kind]
	cutoff := now.Add(-h.window)
	i := 0
	for i < len(hist) && hist[i].at.Before(cutoff) {
		i++
	}
	return hist[i:]
}
