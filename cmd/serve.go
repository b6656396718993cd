package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/iliarafa/llmarena/infrastructure/metrics"
	"github.com/iliarafa/llmarena/infrastructure/providers"
	"github.com/iliarafa/llmarena/internal/arena"
	"github.com/iliarafa/llmarena/internal/config"
	"github.com/iliarafa/llmarena/internal/domain"
	"github.com/iliarafa/llmarena/internal/ledger"
	"github.com/iliarafa/llmarena/internal/ports"
	"github.com/iliarafa/llmarena/internal/pricing"
	"github.com/iliarafa/llmarena/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the comparison arena HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		// Migrations are idempotent; running them on startup keeps
		// single-node sqlite deployments zero-step.
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		collector := metrics.NewPrometheusMetrics()
		collector.RecordGauge("arena_system_state", 1, nil)
		defer collector.RecordGauge("arena_system_state", 0, nil)

		registry, err := providers.NewRegistry(providerConfigs(cfg, collector))
		if err != nil {
			return err
		}
		log.Info("providers configured", zap.Any("providers", registry.Configured()))

		l := ledger.New(st, log, domain.CreditsFromFloat(cfg.Credits.Starter))
		orchestrator := arena.NewOrchestrator(
			arena.NewDispatcher(registry, log, cfg.Arena.MaxConcurrency),
			arena.NewJudge(registry, log),
			arena.NewFusion(registry, log),
			pricing.MustDefaultPolicy(),
			l,
			collector,
			log,
		)

		addr := serveAddr
		if addr == "" {
			addr = cfg.Server.Addr
		}
		srv := server.New(server.Config{
			Addr:           addr,
			WebhookSecret:  cfg.Payments.WebhookSecret,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			TopUpTiers:     cfg.Payments.TopUpTiers,
		}, orchestrator, l, st, collector, log)

		return srv.Run(ctx)
	},
}

// providerConfigs maps configuration onto client configs with the full
// middleware chain. Backends without an API key are skipped by the
// registry.
func providerConfigs(cfg *config.Config, collector ports.MetricsCollector) map[domain.ProviderID]providers.ClientConfig {
	res := cfg.Resilience

	build := func(id domain.ProviderID, pc config.ProviderConfig) providers.ClientConfig {
		return providers.ClientConfig{
			APIKey:  pc.APIKey,
			Model:   pc.Model,
			BaseURL: pc.BaseURL,
			Timeout: pc.Timeout(),
			Middleware: []providers.Middleware{
				providers.TimeoutMiddleware(pc.Timeout()),
				providers.RetryMiddleware(
					res.MaxRetries,
					time.Duration(res.RetryBaseDelayMs)*time.Millisecond,
					time.Duration(res.RetryMaxDelayMs)*time.Millisecond,
				),
				providers.RateLimitMiddleware(rate.Limit(res.RateLimitPerSecond), res.RateLimitBurst),
				providers.CircuitBreakerMiddleware(
					res.BreakerMaxFailures,
					time.Duration(res.BreakerCooldownSec)*time.Second,
				),
				providers.MetricsMiddleware(string(id), collector),
				providers.TracingMiddleware(string(id)),
			},
		}
	}

	return map[domain.ProviderID]providers.ClientConfig{
		domain.ProviderOpenAI:    build(domain.ProviderOpenAI, cfg.Providers.OpenAI),
		domain.ProviderAnthropic: build(domain.ProviderAnthropic, cfg.Providers.Anthropic),
		domain.ProviderGoogle:    build(domain.ProviderGoogle, cfg.Providers.Google),
		domain.ProviderDeepSeek:  build(domain.ProviderDeepSeek, cfg.Providers.DeepSeek),
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
