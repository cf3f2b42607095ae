// Package cli implements the switchboard command-line interface.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/switchboard-ai/switchboard/internal/api"
	"github.com/switchboard-ai/switchboard/internal/artifact"
	"github.com/switchboard-ai/switchboard/internal/auth"
	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/domain"
	"github.com/switchboard-ai/switchboard/internal/features"
	"github.com/switchboard-ai/switchboard/internal/observability"
	"github.com/switchboard-ai/switchboard/internal/providers"
	"github.com/switchboard-ai/switchboard/internal/router"
	"github.com/switchboard-ai/switchboard/internal/store"
)

// Version is stamped at build time.
var Version = "0.1.0"

var (
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Intelligent LLM request router",
	Long: `Switchboard routes chat-completion requests across model providers,
balancing quality against cost per request and failing over on rate limits.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (TOML)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// ─── version ────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("switchboard", Version)
	},
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the routing daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	log := logrus.NewEntry(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Artifact store: seed with the embedded emergency artifact, then try
	// the configured source. The router serves regardless.
	artifacts := artifact.NewStore(artifact.Emergency(cfg.Embedding.Dimension), log.WithField("component", "artifact"))
	loader := artifact.NewLoader(cfg.Tuning.ArtifactURL, artifacts, log.WithField("component", "artifact"))
	if err := loader.Load(ctx); err != nil {
		log.WithError(err).Warn("initial artifact load failed; serving emergency artifact")
	}
	go loader.Run(ctx, time.Duration(cfg.Tuning.ReloadSeconds)*time.Second)

	// Catalog client.
	cat := catalog.NewClient(catalog.DefaultConfig(cfg.Catalog.BaseURL), log.WithField("component", "catalog"))
	if err := cat.Refresh(ctx); err != nil {
		log.WithError(err).Warn("initial catalog fetch failed; lookups degrade until it recovers")
	}
	go cat.Run(ctx, time.Duration(cfg.Catalog.RefreshSeconds)*time.Second)

	// Feature extractor.
	var primary, secondary features.Embedder
	if cfg.Embedding.PrimaryURL != "" {
		primary = features.NewHTTPEmbedder(cfg.Embedding.PrimaryURL)
	}
	if cfg.Embedding.SecondaryURL != "" {
		secondary = features.NewHTTPEmbedder(cfg.Embedding.SecondaryURL)
	}
	extractorCfg := features.DefaultConfig()
	extractorCfg.Budget = cfg.ExtractBudget()
	extractorCfg.Dimension = cfg.Embedding.Dimension
	extractorCfg.CacheSize = cfg.Embedding.CacheSize
	extractorCfg.CacheTTL = time.Duration(cfg.Embedding.CacheTTLHours) * time.Hour
	index := features.NewIndex(artifacts.Current().Centroids)
	extractor := features.NewExtractor(extractorCfg, primary, secondary, index, log.WithField("component", "features"))

	// Optional record store.
	var sink observability.Sink
	var closers []func() error
	if cfg.Observability.DBPath != "" {
		st, err := store.Open(cfg.Observability.DBPath)
		if err != nil {
			return err
		}
		sink = st
		closers = append(closers, st.Close)
	}
	recorder := observability.NewRecorder(observability.DefaultConfig(), sink)

	// Provider adapters and auth registry.
	callers := map[domain.ProviderKind]providers.Caller{
		domain.ProviderAnthropic:  providers.NewAnthropic(""),
		domain.ProviderOpenAI:     providers.NewOpenAI(""),
		domain.ProviderGemini:     providers.NewGemini(""),
		domain.ProviderAggregator: providers.NewAggregator(""),
	}
	registry := auth.NewRegistry(auth.DefaultAdapters(), cfg.AuthAdapters.Enabled)

	rt := router.New(cfg, router.Deps{
		Artifacts: artifacts,
		Catalog:   cat,
		Auth:      registry,
		Callers:   callers,
		Recorder:  recorder,
		Extractor: extractor,
		Log:       log.WithField("component", "router"),
	})

	slo := observability.SLOConfig{
		P95MS:          cfg.Observability.SLO.P95MS,
		MaxMisfireRate: cfg.Observability.SLO.MaxMisfireRate,
		MinUptimePct:   cfg.Observability.SLO.MinUptimePct,
		MaxCostPerTask: cfg.Observability.SLO.MaxCostPerTask,
		MinWinRate:     cfg.Observability.SLO.MinWinRate,
	}
	server := api.NewServer(rt, cat, slo, log.WithField("component", "api"))
	server.EnableMetrics()

	alerter := observability.NewAlerter(cfg.Observability.Alerts.WebhookURL, log.WithField("component", "alerts"))
	go alerter.Watch(ctx, time.Minute, slo, recorder)

	addr := fmt.Sprintf(":%d", cfg.Observability.DashboardPort)
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

	go func() {
		log.WithField("addr", addr).Info("switchboard listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	for _, c := range closers {
		_ = c()
	}
	return nil
}
