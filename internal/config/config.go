// Package config defines the router's configuration surface.
//
// The surface is fixed: a TOML file with the sections below, plus environment
// overrides that mirror the dotted path uppercased and underscore-joined
// (router.alpha → ROUTER_ALPHA). Unknown TOML keys are rejected so typos
// surface at startup instead of silently falling back to defaults.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// ─── Router Section ─────────────────────────────────────────────────────────

// Thresholds are the triage probability cut-offs.
type Thresholds struct {
	Cheap float64 `toml:"cheap" env:"ROUTER_THRESHOLDS_CHEAP"`
	Hard  float64 `toml:"hard" env:"ROUTER_THRESHOLDS_HARD"`
}

// Penalties are the selector's scalar score deductions.
type Penalties struct {
	LatencySD   float64 `toml:"latency_sd" env:"ROUTER_PENALTIES_LATENCY_SD"`
	CtxOver80   float64 `toml:"ctx_over_80pct" env:"ROUTER_PENALTIES_CTX_OVER_80PCT"`
}

// BucketDefault is the thinking directive applied to one bucket.
type BucketDefault struct {
	Effort string `toml:"effort" env:"EFFORT"`
	Budget int    `toml:"budget" env:"BUDGET"`
}

// BucketDefaults maps buckets to thinking defaults. Cheap never thinks.
type BucketDefaults struct {
	Mid  BucketDefault `toml:"mid" envPrefix:"ROUTER_BUCKET_DEFAULTS_MID_"`
	Hard BucketDefault `toml:"hard" envPrefix:"ROUTER_BUCKET_DEFAULTS_HARD_"`
}

// AggregatorProviderPrefs forwards routing hints to the meta-provider.
type AggregatorProviderPrefs struct {
	Sort           string  `toml:"sort" env:"ROUTER_AGGREGATOR_PROVIDER_SORT"`
	MaxPrice       float64 `toml:"max_price" env:"ROUTER_AGGREGATOR_PROVIDER_MAX_PRICE"`
	AllowFallbacks bool    `toml:"allow_fallbacks" env:"ROUTER_AGGREGATOR_PROVIDER_ALLOW_FALLBACKS"`
}

// Aggregator configures the meta-provider candidate construction.
type Aggregator struct {
	ExcludeAuthors []string                `toml:"exclude_authors" env:"ROUTER_AGGREGATOR_EXCLUDE_AUTHORS"`
	Provider       AggregatorProviderPrefs `toml:"provider"`
}

// Router is the routing-policy section.
type Router struct {
	Alpha              float64        `toml:"alpha" env:"ROUTER_ALPHA"`
	Thresholds         Thresholds     `toml:"thresholds"`
	TopP               int            `toml:"top_p" env:"ROUTER_TOP_P"`
	Penalties          Penalties      `toml:"penalties"`
	BucketDefaults     BucketDefaults `toml:"bucket_defaults"`
	CheapCandidates    []string       `toml:"cheap_candidates" env:"ROUTER_CHEAP_CANDIDATES"`
	MidCandidates      []string       `toml:"mid_candidates" env:"ROUTER_MID_CANDIDATES"`
	HardCandidates     []string       `toml:"hard_candidates" env:"ROUTER_HARD_CANDIDATES"`
	Aggregator         Aggregator     `toml:"aggregator"`
	LongContextTrigger int            `toml:"long_context_trigger" env:"ROUTER_LONG_CONTEXT_TRIGGER"`
	RewriteUnknownModel bool          `toml:"rewrite_unknown_model" env:"ROUTER_REWRITE_UNKNOWN_MODEL"`
	CooldownSeconds    int            `toml:"cooldown_seconds" env:"ROUTER_COOLDOWN_SECONDS"`
	ExtractBudgetMS    int            `toml:"extract_budget_ms" env:"ROUTER_EXTRACT_BUDGET_MS"`
}

// Candidates returns the configured shortlist for a bucket name.
func (r Router) Candidates(bucket string) []string {
	switch bucket {
	case "cheap":
		return r.CheapCandidates
	case "hard":
		return r.HardCandidates
	default:
		return r.MidCandidates
	}
}

// ─── Collaborator Sections ──────────────────────────────────────────────────

// AuthAdapters selects which credential detectors run.
type AuthAdapters struct {
	Enabled []string `toml:"enabled" env:"AUTH_ADAPTERS_ENABLED"`
}

// Catalog points at the read-only model catalog service.
type Catalog struct {
	BaseURL        string `toml:"base_url" env:"CATALOG_BASE_URL"`
	RefreshSeconds int    `toml:"refresh_seconds" env:"CATALOG_REFRESH_SECONDS"`
}

// Tuning points at the artifact emitted by the external tuning pipeline.
type Tuning struct {
	ArtifactURL   string `toml:"artifact_url" env:"TUNING_ARTIFACT_URL"`
	ReloadSeconds int    `toml:"reload_seconds" env:"TUNING_RELOAD_SECONDS"`
}

// Embedding configures the feature extractor's embedding backends.
type Embedding struct {
	PrimaryURL   string `toml:"primary_url" env:"EMBEDDING_PRIMARY_URL"`
	SecondaryURL string `toml:"secondary_url" env:"EMBEDDING_SECONDARY_URL"`
	Dimension    int    `toml:"dimension" env:"EMBEDDING_DIMENSION"`
	CacheSize    int    `toml:"cache_size" env:"EMBEDDING_CACHE_SIZE"`
	CacheTTLHours int   `toml:"cache_ttl_hours" env:"EMBEDDING_CACHE_TTL_HOURS"`
}

// SLO holds the deployment-gate thresholds.
type SLO struct {
	P95MS          float64 `toml:"p95_ms" env:"OBSERVABILITY_SLO_P95_MS"`
	MaxMisfireRate float64 `toml:"max_misfire_rate" env:"OBSERVABILITY_SLO_MAX_MISFIRE_RATE"`
	MinUptimePct   float64 `toml:"min_uptime_pct" env:"OBSERVABILITY_SLO_MIN_UPTIME_PCT"`
	MaxCostPerTask float64 `toml:"max_cost_per_task" env:"OBSERVABILITY_SLO_MAX_COST_PER_TASK"`
	MinWinRate     float64 `toml:"min_win_rate" env:"OBSERVABILITY_SLO_MIN_WIN_RATE"`
}

// Alerts configures outbound notifications.
type Alerts struct {
	WebhookURL string `toml:"webhook_url" env:"OBSERVABILITY_ALERTS_WEBHOOK_URL"`
}

// Observability is the dashboard/SLO section.
type Observability struct {
	DashboardPort int    `toml:"dashboard_port" env:"OBSERVABILITY_DASHBOARD_PORT"`
	DBPath        string `toml:"db_path" env:"OBSERVABILITY_DB_PATH"`
	SLO           SLO    `toml:"slo"`
	Alerts        Alerts `toml:"alerts"`
}

// ─── Top Level ──────────────────────────────────────────────────────────────

// Config is the full recognized configuration surface.
type Config struct {
	Router        Router        `toml:"router"`
	AuthAdapters  AuthAdapters  `toml:"auth_adapters"`
	Catalog       Catalog       `toml:"catalog"`
	Tuning        Tuning        `toml:"tuning"`
	Embedding     Embedding     `toml:"embedding"`
	Observability Observability `toml:"observability"`
	LogLevel      string        `toml:"log_level" env:"LOG_LEVEL"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Router: Router{
			Alpha:      0.6,
			Thresholds: Thresholds{Cheap: 0.62, Hard: 0.58},
			TopP:       3,
			Penalties:  Penalties{LatencySD: 0.05, CtxOver80: 0.1},
			BucketDefaults: BucketDefaults{
				Mid:  BucketDefault{Effort: "medium", Budget: 8000},
				Hard: BucketDefault{Effort: "high", Budget: 20000},
			},
			CheapCandidates: []string{
				"deepseek/deepseek-r1",
				"meta-llama/llama-3.3-70b-instruct",
				"gpt-4o-mini",
			},
			MidCandidates: []string{
				"gpt-4o",
				"gemini-2.5-flash",
				"deepseek/deepseek-r1",
			},
			HardCandidates: []string{
				"claude-sonnet-4-20250514",
				"gemini-2.5-pro",
				"o3",
			},
			Aggregator: Aggregator{
				ExcludeAuthors: []string{"anthropic"},
				Provider: AggregatorProviderPrefs{
					Sort:           "throughput",
					AllowFallbacks: false,
				},
			},
			LongContextTrigger:  200_000,
			RewriteUnknownModel: true,
			CooldownSeconds:     240,
			ExtractBudgetMS:     25,
		},
		AuthAdapters: AuthAdapters{
			Enabled: []string{"anthropic", "openai", "gemini", "aggregator"},
		},
		Catalog: Catalog{
			BaseURL:        "http://127.0.0.1:8090",
			RefreshSeconds: 300,
		},
		Tuning: Tuning{
			ReloadSeconds: 600,
		},
		Embedding: Embedding{
			Dimension:     384,
			CacheSize:     12_000,
			CacheTTLHours: 24,
		},
		Observability: Observability{
			DashboardPort: 8091,
			SLO: SLO{
				P95MS:          2500,
				MaxMisfireRate: 0.05,
				MinUptimePct:   99.5,
				MaxCostPerTask: 0.25,
				MinWinRate:     0.5,
			},
		},
		LogLevel: "info",
	}
}

// Load reads the TOML file at path (optional — empty path means defaults),
// applies environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read config file")
		}
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, errors.Wrap(err, "parse config file")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return cfg, errors.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Wrap(err, "apply environment overrides")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values that would make the routing pipeline misbehave.
func (c Config) Validate() error {
	if c.Router.Alpha < 0 || c.Router.Alpha > 1 {
		return errors.Errorf("router.alpha must be in [0,1], got %v", c.Router.Alpha)
	}
	for name, v := range map[string]float64{
		"router.thresholds.cheap": c.Router.Thresholds.Cheap,
		"router.thresholds.hard":  c.Router.Thresholds.Hard,
	} {
		if v < 0 || v > 1 {
			return errors.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.Router.TopP < 1 {
		return errors.Errorf("router.top_p must be >= 1, got %d", c.Router.TopP)
	}
	if c.Router.LongContextTrigger <= 0 {
		return errors.Errorf("router.long_context_trigger must be positive")
	}
	if c.Embedding.Dimension != 384 && c.Embedding.Dimension != 768 {
		return errors.Errorf("embedding.dimension must be 384 or 768, got %d", c.Embedding.Dimension)
	}
	if len(c.Router.CheapCandidates) == 0 || len(c.Router.MidCandidates) == 0 || len(c.Router.HardCandidates) == 0 {
		return errors.New("every bucket needs at least one candidate")
	}
	return nil
}

// CooldownTTL returns the cool-down window as a duration.
func (c Config) CooldownTTL() time.Duration {
	return time.Duration(c.Router.CooldownSeconds) * time.Second
}

// ExtractBudget returns the feature-extraction deadline.
func (c Config) ExtractBudget() time.Duration {
	return time.Duration(c.Router.ExtractBudgetMS) * time.Millisecond
}
