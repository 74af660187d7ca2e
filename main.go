package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/revlane/assistant/internal/billing"
	"github.com/revlane/assistant/internal/breaker"
	"github.com/revlane/assistant/internal/config"
	"github.com/revlane/assistant/internal/llm"
	"github.com/revlane/assistant/internal/metrics"
	"github.com/revlane/assistant/internal/orchestrator"
	"github.com/revlane/assistant/internal/policy"
	"github.com/revlane/assistant/internal/store"
	"github.com/revlane/assistant/internal/tools"
	transport "github.com/revlane/assistant/internal/transport/http"
	v1 "github.com/revlane/assistant/internal/transport/http/v1"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg)

	log.Info("starting assistant runtime",
		"port", cfg.HTTPPort, "model", cfg.Model, "database", cfg.DatabaseURL)

	// Store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Plan-gating policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}

	// Upstream provider behind the circuit breaker
	var provider llm.Provider
	if cfg.AnthropicAPIKey != "" {
		provider = llm.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.Model, cfg.ProviderTimeout)
	} else {
		log.Warn("ANTHROPIC_API_KEY not set, using mock provider")
		provider = llm.NewMockProvider()
	}
	brk := breaker.New("anthropic", breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Window:           cfg.BreakerWindow,
		Cooldown:         cfg.BreakerCooldown,
		Classify:         llm.IsQualifyingFailure,
		OnStateChange: func(name string, from, to breaker.State) {
			log.Warn("circuit state changed", "upstream", name, "from", from.String(), "to", to.String())
			metrics.BreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
		},
	})

	// Billing
	meter := billing.NewMeter(db, billing.DefaultRates(), cfg.MinQueryFloorCents, log)
	refiller := billing.NewRefiller(db, cfg.MonthlyRefillCents, log)
	if err := refiller.Start(cfg.RefillSchedule); err != nil {
		log.Error("failed to start refill scheduler", "error", err)
		os.Exit(1)
	}
	defer refiller.Stop()

	// Tools
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		log.Error("failed to register tools", "error", err)
		os.Exit(1)
	}
	filter := tools.NewFilter(registry, policyEngine)
	executor := tools.NewExecutor(registry, policyEngine, cfg.ToolTimeout, log)

	// Orchestrator and HTTP surface
	orch := orchestrator.New(db, meter, brk, provider, filter, executor, orchestrator.Config{
		MaxTokens:          cfg.MaxTokens,
		ProviderTimeout:    cfg.ProviderTimeout,
		TurnBudget:         cfg.TurnBudget,
		SignupBalanceCents: cfg.SignupBalanceCents,
	}, log)
	handler := v1.NewHandler(orch, db, cfg.InternalEvalKey, log)
	server := transport.NewServer(handler)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()
	log.Info("assistant runtime started", "port", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}
