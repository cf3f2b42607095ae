package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Router.Alpha != 0.6 {
		t.Errorf("Router.Alpha = %v, want 0.6", cfg.Router.Alpha)
	}
	if cfg.Router.Thresholds.Cheap != 0.62 {
		t.Errorf("Thresholds.Cheap = %v, want 0.62", cfg.Router.Thresholds.Cheap)
	}
	if cfg.Router.Thresholds.Hard != 0.58 {
		t.Errorf("Thresholds.Hard = %v, want 0.58", cfg.Router.Thresholds.Hard)
	}
	if cfg.Router.TopP != 3 {
		t.Errorf("Router.TopP = %d, want 3", cfg.Router.TopP)
	}
	if cfg.Router.LongContextTrigger != 200_000 {
		t.Errorf("LongContextTrigger = %d, want 200000", cfg.Router.LongContextTrigger)
	}
	if cfg.Router.CooldownSeconds != 240 {
		t.Errorf("CooldownSeconds = %d, want 240", cfg.Router.CooldownSeconds)
	}
	if cfg.Observability.SLO.P95MS != 2500 {
		t.Errorf("SLO.P95MS = %v, want 2500", cfg.Observability.SLO.P95MS)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[router]
alpha = 0.8
top_p = 5

[router.thresholds]
cheap = 0.7
hard = 0.5

[catalog]
base_url = "http://catalog.internal:8090"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Router.Alpha != 0.8 || cfg.Router.TopP != 5 {
		t.Errorf("router overrides not applied: %+v", cfg.Router)
	}
	if cfg.Router.Thresholds.Cheap != 0.7 {
		t.Errorf("thresholds override not applied")
	}
	if cfg.Catalog.BaseURL != "http://catalog.internal:8090" {
		t.Errorf("catalog override not applied")
	}
	// Untouched sections keep defaults.
	if cfg.Router.LongContextTrigger != 200_000 {
		t.Errorf("unset value lost its default")
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[router]
alpha = 0.5
no_such_option = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("unknown key should be rejected")
	}
	if !strings.Contains(err.Error(), "no_such_option") {
		t.Errorf("error should name the offending key: %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ROUTER_ALPHA", "0.9")
	t.Setenv("CATALOG_BASE_URL", "http://env-catalog:1234")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Router.Alpha != 0.9 {
		t.Errorf("env alpha = %v, want 0.9", cfg.Router.Alpha)
	}
	if cfg.Catalog.BaseURL != "http://env-catalog:1234" {
		t.Errorf("env catalog url = %q", cfg.Catalog.BaseURL)
	}
}

func TestValidate_Rejects(t *testing.T) {
	mutate := func(fn func(*Config)) Config {
		cfg := DefaultConfig()
		fn(&cfg)
		return cfg
	}

	cases := map[string]Config{
		"alpha above 1":      mutate(func(c *Config) { c.Router.Alpha = 1.2 }),
		"alpha below 0":      mutate(func(c *Config) { c.Router.Alpha = -0.1 }),
		"threshold above 1":  mutate(func(c *Config) { c.Router.Thresholds.Cheap = 1.5 }),
		"top_p zero":         mutate(func(c *Config) { c.Router.TopP = 0 }),
		"bad dimension":      mutate(func(c *Config) { c.Embedding.Dimension = 100 }),
		"empty candidates":   mutate(func(c *Config) { c.Router.MidCandidates = nil }),
		"no trigger":         mutate(func(c *Config) { c.Router.LongContextTrigger = 0 }),
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestCandidates_ByBucket(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Router.Candidates("cheap"); len(got) == 0 || got[0] != "deepseek/deepseek-r1" {
		t.Errorf("cheap candidates = %v", got)
	}
	if got := cfg.Router.Candidates("hard"); len(got) == 0 || got[0] != "claude-sonnet-4-20250514" {
		t.Errorf("hard candidates = %v", got)
	}
	// Anything else resolves to mid.
	if got := cfg.Router.Candidates("mid"); len(got) == 0 {
		t.Errorf("mid candidates = %v", got)
	}
}
