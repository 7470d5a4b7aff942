// Airlock is an intelligent multi-agent gateway: it routes conversational
// queries to registered downstream agents over MCP, enforcing content
// security checkpoints on the way in and out.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/airlock-ai/airlock/pkg/api"
	"github.com/airlock-ai/airlock/pkg/audit"
	"github.com/airlock-ai/airlock/pkg/config"
	"github.com/airlock-ai/airlock/pkg/coordinator"
	"github.com/airlock-ai/airlock/pkg/health"
	"github.com/airlock-ai/airlock/pkg/llm"
	"github.com/airlock-ai/airlock/pkg/mcp"
	"github.com/airlock-ai/airlock/pkg/policy"
	"github.com/airlock-ai/airlock/pkg/registry"
	"github.com/airlock-ai/airlock/pkg/version"
)

// registryHealthSink lets the MCP layer flip an agent's health flag when a
// downstream transport fails, without importing the registry from pkg/mcp.
type registryHealthSink struct {
	agents *registry.Registry
}

func (s registryHealthSink) MarkUnhealthy(agentID, reason string) {
	if err := s.agents.UpdateHealth(agentID, false); err != nil {
		return
	}
	slog.Warn("Agent marked unhealthy", "agent_id", agentID, "reason", reason)
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file loaded, using environment variables", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg.InitLogging()

	slog.Info("Starting Airlock gateway", "version", version.Full())

	providers := llm.BuildRegistry(cfg.LLM)
	if providers.Empty() {
		slog.Error("No LLM provider configured; set at least one provider API key")
		os.Exit(1)
	}
	slog.Info("LLM providers ready", "providers", providers.Tags(), "default", providers.Default())

	policyClient := policy.NewClient(cfg.Policy)
	if cfg.Policy.Configured() {
		slog.Info("Security policy engine configured", "profile", cfg.Policy.ProfileID)
	} else {
		slog.Warn("Security policy engine not configured; checkpoints will pass through")
	}

	agents := registry.New()
	sessions := mcp.NewManager(cfg.MCPTimeout, registryHealthSink{agents: agents})

	auditSink := audit.Sink(audit.NopSink{})
	if cfg.DatabaseURL != "" {
		initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pgSink, err := audit.NewPostgresSink(initCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			slog.Error("Failed to initialize audit database", "error", err)
			os.Exit(1)
		}
		auditSink = pgSink
		slog.Info("Query audit persistence enabled")
	}
	defer func() {
		if err := auditSink.Close(); err != nil {
			slog.Error("Failed to close audit sink", "error", err)
		}
	}()

	coord := coordinator.New(providers, agents, sessions, policyClient, coordinator.Options{
		Audit:            auditSink,
		HistoryWindow:    cfg.HistoryWindow,
		TranslationModel: cfg.LLM.TranslationModel,
	})

	monitor := health.NewMonitor(agents, sessions, health.Config{
		ProbeInterval: cfg.HealthCheckInterval,
		ProbeTimeout:  cfg.HealthProbeTimeout,
		PruneInterval: cfg.SessionPruneInterval,
		IdleMax:       cfg.SessionIdleMax,
	})
	monitor.Start(context.Background())
	defer monitor.Stop()

	port, err := strconv.Atoi(cfg.HTTPPort)
	if err != nil {
		slog.Error("Invalid gateway port", "port", cfg.HTTPPort, "error", err)
		os.Exit(1)
	}

	server := api.NewServer(coord, agents, sessions, providers)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(port)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("API server failed", "error", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Airlock gateway stopped")
}
