// Package features implements the request feature extractor.
//
// Extraction reduces a chat request to a numeric feature vector — embedding,
// cluster membership, lexical signals, context pressure — inside a strict
// latency budget. Every sub-step has a fallback, so extraction degrades but
// never fails the request.
package features

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
)

// ─── Embedding Backends ─────────────────────────────────────────────────────

// Embedder produces a fixed-dimension vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder calls a remote embedding service:
// POST {url} {"input": "..."} → {"embedding": [...]}.
type HTTPEmbedder struct {
	URL    string
	Client *http.Client
}

// NewHTTPEmbedder creates a remote embedding backend.
func NewHTTPEmbedder(url string) *HTTPEmbedder {
	return &HTTPEmbedder{URL: url, Client: &http.Client{}}
}

type embedRequest struct {
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed calls the backend. The context deadline is the only timeout; the
// extractor derives it from the remaining extraction budget.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Input: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("embedding backend returned %d", resp.StatusCode)
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("embedding backend returned empty vector")
	}
	return out.Embedding, nil
}

// ─── Deterministic Fallback ─────────────────────────────────────────────────

// FallbackEmbed derives a dim-length vector by spreading sha256 bytes of the
// text over [-1, 1]. It is guaranteed to succeed and is stable across
// processes, so cache entries and cluster assignments stay consistent.
func FallbackEmbed(text string, dim int) []float32 {
	vec := make([]float32, 0, dim)
	for block := 0; len(vec) < dim; block++ {
		h := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", block, text)))
		for _, b := range h {
			if len(vec) == dim {
				break
			}
			vec = append(vec, float32(b)/127.5-1.0)
		}
	}
	return vec
}

// ─── Embedding Cache ────────────────────────────────────────────────────────

// Cache is an LRU+TTL embedding cache keyed by a strong hash of the text.
// Writes are last-writer-wins; content is a pure function of the key.
type Cache struct {
	inner *lru.LRU[string, []float32]
}

// NewCache creates a cache with the given capacity and TTL.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 12_000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{inner: lru.NewLRU[string, []float32](size, nil, ttl)}
}

// Key hashes text to a compact cache key.
func (c *Cache) Key(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}

// Get returns the cached vector for text, if present and unexpired.
func (c *Cache) Get(text string) ([]float32, bool) {
	return c.inner.Get(c.Key(text))
}

// Set stores the vector for text.
func (c *Cache) Set(text string, vec []float32) {
	c.inner.Add(c.Key(text), vec)
}

// Len returns the number of live entries.
func (c *Cache) Len() int { return c.inner.Len() }

// ─── Chain ──────────────────────────────────────────────────────────────────

// EmbedChain tries primary then secondary backends, then the deterministic
// fallback. The returned bool is true when the fallback was used.
func EmbedChain(ctx context.Context, primary, secondary Embedder, text string, dim int) ([]float32, bool) {
	for _, backend := range []Embedder{primary, secondary} {
		if backend == nil {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		vec, err := backend.Embed(ctx, text)
		if err == nil && len(vec) == dim {
			return vec, false
		}
	}
	return FallbackEmbed(text, dim), true
}
