// Package catalog is the read-only client for the external model catalog
// service. The catalog owns pricing and capability ingestion; the router only
// reads. Responses are cached for a short TTL and the previous snapshot keeps
// serving when the catalog is unreachable, so a catalog outage degrades
// freshness, never availability.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the catalog client.
type Config struct {
	// BaseURL is the catalog service root, e.g. "http://127.0.0.1:8090".
	BaseURL string

	// TTL is how long a fetched snapshot stays fresh (default 5 min).
	TTL time.Duration

	// RequestTimeout bounds each catalog HTTP call.
	RequestTimeout time.Duration

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		TTL:            5 * time.Minute,
		RequestTimeout: 10 * time.Second,
		Now:            time.Now,
	}
}

// ─── Client ─────────────────────────────────────────────────────────────────

// snapshot is one immutable view of the catalog.
type snapshot struct {
	models    map[string]domain.ModelCard // slug → card
	flags     map[string]string
	fetchedAt time.Time
}

// Client is a thread-safe caching catalog reader.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logrus.Entry

	mu   sync.RWMutex
	snap *snapshot // nil until first successful fetch

	// stats
	fetches   int64
	staleHits int64
}

// NewClient creates a catalog client. Call Refresh (or let lookups trigger
// it lazily) to populate the first snapshot.
func NewClient(cfg Config, log *logrus.Entry) *Client {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
		log:  log,
	}
}

// Seed installs an initial snapshot without a network fetch. Used in tests
// and for offline startup from a persisted snapshot.
func (c *Client) Seed(cards []domain.ModelCard) {
	byslug := make(map[string]domain.ModelCard, len(cards))
	for _, card := range cards {
		byslug[card.Slug] = card
	}
	c.mu.Lock()
	c.snap = &snapshot{models: byslug, fetchedAt: c.cfg.Now()}
	c.mu.Unlock()
}

// Refresh fetches /v1/models and replaces the snapshot. On failure with a
// previous snapshot in place, that snapshot keeps serving, a stale hit is
// counted and nil is returned; with no snapshot at all the failure surfaces
// as ErrCatalogUnavailable.
func (c *Client) Refresh(ctx context.Context) error {
	var cards []domain.ModelCard
	if err := c.getJSON(ctx, "/v1/models", nil, &cards); err != nil {
		c.mu.RLock()
		hasPrev := c.snap != nil
		c.mu.RUnlock()
		if hasPrev {
			c.mu.Lock()
			c.staleHits++
			c.mu.Unlock()
			if c.log != nil {
				c.log.WithError(err).Warn("catalog refresh failed; serving previous snapshot")
			}
			return nil
		}
		return errors.Wrap(domain.ErrCatalogUnavailable, err.Error())
	}

	byslug := make(map[string]domain.ModelCard, len(cards))
	for _, card := range cards {
		byslug[card.Slug] = card
	}

	var flags map[string]string
	// Feature flags are advisory; a failed fetch leaves them empty.
	_ = c.getJSON(ctx, "/v1/feature-flags", nil, &flags)

	c.mu.Lock()
	c.snap = &snapshot{models: byslug, flags: flags, fetchedAt: c.cfg.Now()}
	c.fetches++
	c.mu.Unlock()
	return nil
}

// ensureFresh refreshes if the snapshot is missing or older than TTL.
func (c *Client) ensureFresh(ctx context.Context) {
	c.mu.RLock()
	fresh := c.snap != nil && c.cfg.Now().Sub(c.snap.fetchedAt) < c.cfg.TTL
	c.mu.RUnlock()
	if !fresh {
		_ = c.Refresh(ctx)
	}
}

// Lookup returns the capability card for a model slug.
func (c *Client) Lookup(ctx context.Context, slug string) (domain.ModelCard, error) {
	c.ensureFresh(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return domain.ModelCard{}, domain.ErrCatalogUnavailable
	}
	card, ok := c.snap.models[slug]
	if !ok {
		return domain.ModelCard{}, errors.Wrap(domain.ErrModelUnknown, slug)
	}
	return card, nil
}

// Has reports whether a slug resolves in the catalog.
func (c *Client) Has(ctx context.Context, slug string) bool {
	_, err := c.Lookup(ctx, slug)
	return err == nil
}

// Models returns all cards, optionally filtered by provider and family.
func (c *Client) Models(ctx context.Context, provider domain.ProviderKind, family string) []domain.ModelCard {
	c.ensureFresh(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil
	}
	out := make([]domain.ModelCard, 0, len(c.snap.models))
	for _, card := range c.snap.models {
		if provider != "" && card.Provider != provider {
			continue
		}
		if family != "" && card.Family != family {
			continue
		}
		out = append(out, card)
	}
	return out
}

// Pricing returns the pricing record for a slug.
func (c *Client) Pricing(ctx context.Context, slug string) (domain.Pricing, error) {
	card, err := c.Lookup(ctx, slug)
	if err != nil {
		return domain.Pricing{}, err
	}
	return card.Pricing, nil
}

// FeatureFlag returns an opaque flag value and whether it is present.
func (c *Client) FeatureFlag(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil || c.snap.flags == nil {
		return "", false
	}
	v, ok := c.snap.flags[name]
	return v, ok
}

// Run refreshes the snapshot on an interval until ctx is cancelled.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}

// Health probes the catalog's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]any
	return c.getJSON(ctx, "/health", nil, &out)
}

// ─── HTTP plumbing ──────────────────────────────────────────────────────────

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("catalog %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Stats reports client counters for the status endpoint.
type Stats struct {
	Fetches   int64     `json:"fetches"`
	StaleHits int64     `json:"stale_hits"`
	Models    int       `json:"models"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Stats returns current client statistics.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Stats{Fetches: c.fetches, StaleHits: c.staleHits}
	if c.snap != nil {
		st.Models = len(c.snap.models)
		st.FetchedAt = c.snap.fetchedAt
	}
	return st
}
