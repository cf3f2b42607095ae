// Package artifact loads and publishes the tuning artifact.
//
// The artifact is a value, not a service: a versioned JSON payload carrying
// the α weight, bucket thresholds, penalties, per-cluster quality scores,
// normalized costs, cluster centroids, and the serialized triage model. It is
// loaded at startup, refreshed on an interval, and hot-swapped by atomic
// pointer publication — a request sees one consistent artifact from entry to
// exit, never a partial.
package artifact

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Artifact Value ─────────────────────────────────────────────────────────

// Thresholds are the bucket probability cut-offs fitted by the tuner.
type Thresholds struct {
	Cheap float64 `json:"cheap"`
	Hard  float64 `json:"hard"`
}

// Penalties are fitted scalar score deductions.
type Penalties struct {
	LatencySD float64 `json:"latency_sd"`
	CtxOver80 float64 `json:"ctx_over_80pct"`
}

// GBDT carries the serialized triage classifier.
type GBDT struct {
	Framework     string          `json:"framework"`
	Blob          json.RawMessage `json:"blob"`
	FeatureSchema []string        `json:"feature_schema"`
}

// Artifact is the immutable, versioned tuning payload.
type Artifact struct {
	Version   string    `json:"version"`
	Centroids [][]float32 `json:"centroids"`
	Alpha     float64   `json:"alpha"`
	Thresholds Thresholds `json:"thresholds"`
	Penalties  Penalties  `json:"penalties"`

	// Qhat maps model slug → per-cluster quality in [0,1]. Each slice has
	// length len(Centroids).
	Qhat map[string][]float64 `json:"qhat"`
	// Chat maps model slug → normalized cost in [0,1]. Unrelated to chat
	// messages.
	Chat map[string]float64 `json:"chat"`

	GBDT GBDT `json:"gbdt"`

	// Fingerprint is the sha256 of the raw payload, set by the loader.
	Fingerprint string `json:"-"`
}

// NumClusters returns the cluster count of the centroid space.
func (a *Artifact) NumClusters() int { return len(a.Centroids) }

// Quality returns qhat[slug][cluster], or the conservative mean 0.5 when the
// model has no quality data for this cluster.
func (a *Artifact) Quality(slug string, cluster int) float64 {
	qs, ok := a.Qhat[slug]
	if !ok || cluster < 0 || cluster >= len(qs) {
		return 0.5
	}
	return qs[cluster]
}

// Cost returns chat[slug], or 0.5 when unknown.
func (a *Artifact) Cost(slug string) float64 {
	c, ok := a.Chat[slug]
	if !ok {
		return 0.5
	}
	return c
}

// Validate enforces the artifact invariants before publication.
func (a *Artifact) Validate() error {
	if a.Version == "" {
		return errors.Wrap(domain.ErrArtifactCorrupt, "missing version")
	}
	if a.Alpha < 0 || a.Alpha > 1 {
		return errors.Wrapf(domain.ErrArtifactCorrupt, "alpha %v outside [0,1]", a.Alpha)
	}
	if len(a.Centroids) == 0 {
		return errors.Wrap(domain.ErrArtifactCorrupt, "no centroids")
	}
	dim := len(a.Centroids[0])
	for i, c := range a.Centroids {
		if len(c) != dim {
			return errors.Wrapf(domain.ErrArtifactCorrupt, "centroid %d dimension %d != %d", i, len(c), dim)
		}
	}
	for slug, qs := range a.Qhat {
		if len(qs) != len(a.Centroids) {
			return errors.Wrapf(domain.ErrArtifactCorrupt,
				"qhat[%s] has %d entries, want %d clusters", slug, len(qs), len(a.Centroids))
		}
		for _, q := range qs {
			if math.IsNaN(q) || math.IsInf(q, 0) {
				return errors.Wrapf(domain.ErrArtifactCorrupt, "qhat[%s] has non-finite entry", slug)
			}
		}
	}
	for slug, c := range a.Chat {
		if c < 0 || c > 1 || math.IsNaN(c) {
			return errors.Wrapf(domain.ErrArtifactCorrupt, "chat[%s]=%v outside [0,1]", slug, c)
		}
	}
	return nil
}

// ─── Store ──────────────────────────────────────────────────────────────────

// Store publishes the current artifact. Readers call Current once per request
// and hold the pointer for the request's lifetime.
type Store struct {
	current atomic.Pointer[Artifact]

	mu       sync.Mutex // serializes swaps
	onSwap   []func(*Artifact)
	log      *logrus.Entry
}

// NewStore creates a store seeded with the given artifact.
func NewStore(seed *Artifact, log *logrus.Entry) *Store {
	s := &Store{log: log}
	s.current.Store(seed)
	return s
}

// Current returns the published artifact. Never nil.
func (s *Store) Current() *Artifact { return s.current.Load() }

// OnSwap registers a callback invoked after each successful swap.
// Callbacks run on the reloader goroutine and must not block.
func (s *Store) OnSwap(fn func(*Artifact)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSwap = append(s.onSwap, fn)
}

// Swap publishes next if its fingerprint differs from the current one.
// Returns true when a swap happened.
func (s *Store) Swap(next *Artifact) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if cur != nil && cur.Fingerprint == next.Fingerprint {
		return false
	}
	s.current.Store(next)
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"version":  next.Version,
			"clusters": next.NumClusters(),
		}).Info("artifact swapped")
	}
	for _, fn := range s.onSwap {
		fn(next)
	}
	return true
}

// ─── Loader ─────────────────────────────────────────────────────────────────

// Loader fetches artifacts from a URL (http(s)://, file://, or bare path)
// and feeds a Store.
type Loader struct {
	url    string
	client *http.Client
	store  *Store
	log    *logrus.Entry
}

// NewLoader creates a loader for the configured artifact source.
func NewLoader(url string, store *Store, log *logrus.Entry) *Loader {
	return &Loader{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		store:  store,
		log:    log,
	}
}

// Load fetches, parses, validates, and publishes one artifact.
// On any failure the previous artifact keeps serving.
func (l *Loader) Load(ctx context.Context) error {
	if l.url == "" {
		return errors.Wrap(domain.ErrArtifactUnavailable, "no artifact url configured")
	}
	raw, err := l.fetch(ctx)
	if err != nil {
		return errors.Wrap(domain.ErrArtifactUnavailable, err.Error())
	}
	art, err := Parse(raw)
	if err != nil {
		return err
	}
	l.store.Swap(art)
	return nil
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	switch {
	case strings.HasPrefix(l.url, "http://"), strings.HasPrefix(l.url, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("artifact fetch returned %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	case strings.HasPrefix(l.url, "file://"):
		return os.ReadFile(strings.TrimPrefix(l.url, "file://"))
	default:
		return os.ReadFile(l.url)
	}
}

// Run reloads on the given interval until ctx is cancelled.
func (l *Loader) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Load(ctx); err != nil && l.log != nil {
				l.log.WithError(err).Warn("artifact reload failed; keeping previous")
			}
		}
	}
}

// Parse decodes and validates a raw artifact payload, stamping its
// fingerprint.
func Parse(raw []byte) (*Artifact, error) {
	var art Artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, errors.Wrap(domain.ErrArtifactCorrupt, err.Error())
	}
	if err := art.Validate(); err != nil {
		return nil, err
	}
	art.Fingerprint = domain.SHA256Hex(raw)
	return &art, nil
}
