// Package config loads gateway configuration from the environment.
//
// All settings are env-driven: the gateway is deployed as a single container
// and agents register themselves at runtime, so there is no static topology
// file. Load is called once at startup; the resulting Config is read-only
// afterwards.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config is the root gateway configuration.
type Config struct {
	// HTTPPort is the front-door listen port (MCP_GATEWAY_PORT).
	HTTPPort string

	LogLevel  string
	LogFormat string // "text" or "json"

	LLM    LLMConfig
	Policy PolicyConfig

	// MCPTimeout bounds a single downstream JSON-RPC call. Generous by
	// default: downstream agents are themselves LLM-backed and slow.
	MCPTimeout time.Duration

	// HealthCheckInterval is the period between agent health sweeps.
	HealthCheckInterval time.Duration
	// HealthProbeTimeout bounds a single GET /health probe.
	HealthProbeTimeout time.Duration

	// SessionIdleMax is the idle age beyond which a downstream MCP session
	// is pruned. SessionPruneInterval is how often the pruner runs.
	SessionIdleMax       time.Duration
	SessionPruneInterval time.Duration

	// HistoryWindow is the number of trailing conversation turns forwarded
	// to the routing engine and downstream agents.
	HistoryWindow int

	// DatabaseURL enables the optional Postgres audit sink when non-empty.
	DatabaseURL string
}

// PolicyConfig holds the content-security policy engine settings.
// All three fields must be set for checkpoints to do real work; otherwise the
// policy client short-circuits to approval.
type PolicyConfig struct {
	APIURL    string
	APIToken  string
	ProfileID string
	AppName   string
}

// Configured reports whether the policy engine is reachable in principle.
func (p PolicyConfig) Configured() bool {
	return p.APIURL != "" && p.APIToken != "" && p.ProfileID != ""
}

// Load reads configuration from the environment and applies defaults.
// Returns an error only for values that cannot be parsed; missing optional
// settings fall back to defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:  getEnv("MCP_GATEWAY_PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		Policy: PolicyConfig{
			APIURL:    os.Getenv("PRISMA_AIRS_API_URL"),
			APIToken:  os.Getenv("PRISMA_AIRS_API_TOKEN"),
			ProfileID: os.Getenv("PRISMA_AIRS_PROFILE_ID"),
			AppName:   getEnv("POLICY_APP_NAME", "airlock-gateway"),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}

	var err error
	if cfg.MCPTimeout, err = getEnvMinutes("MCP_TIMEOUT_MINUTES", 20); err != nil {
		return nil, err
	}
	if cfg.HealthCheckInterval, err = getEnvSeconds("HEALTH_CHECK_INTERVAL_SECONDS", 30); err != nil {
		return nil, err
	}
	if cfg.HealthProbeTimeout, err = getEnvSeconds("HEALTH_PROBE_TIMEOUT_SECONDS", 5); err != nil {
		return nil, err
	}
	if cfg.SessionIdleMax, err = getEnvMinutes("SESSION_IDLE_MINUTES", 30); err != nil {
		return nil, err
	}
	if cfg.SessionPruneInterval, err = getEnvMinutes("SESSION_PRUNE_INTERVAL_MINUTES", 5); err != nil {
		return nil, err
	}
	if cfg.HistoryWindow, err = getEnvInt("HISTORY_WINDOW", 6); err != nil {
		return nil, err
	}

	cfg.LLM = loadLLMConfig()
	return cfg, nil
}

// InitLogging installs the process-wide slog handler per LOG_LEVEL/LOG_FORMAT.
func (c *Config) InitLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvMinutes(key string, defaultMinutes int) (time.Duration, error) {
	n, err := getEnvInt(key, defaultMinutes)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Minute, nil
}

func getEnvSeconds(key string, defaultSeconds int) (time.Duration, error) {
	n, err := getEnvInt(key, defaultSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
