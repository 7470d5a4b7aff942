package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 20*time.Minute, cfg.MCPTimeout)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.SessionPruneInterval)
	assert.Equal(t, 6, cfg.HistoryWindow)
	assert.False(t, cfg.Policy.Configured())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MCP_GATEWAY_PORT", "9999")
	t.Setenv("MCP_TIMEOUT_MINUTES", "2")
	t.Setenv("HEALTH_CHECK_INTERVAL_SECONDS", "7")
	t.Setenv("PRISMA_AIRS_API_URL", "https://airs.example.com")
	t.Setenv("PRISMA_AIRS_API_TOKEN", "tok")
	t.Setenv("PRISMA_AIRS_PROFILE_ID", "prof-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.HTTPPort)
	assert.Equal(t, 2*time.Minute, cfg.MCPTimeout)
	assert.Equal(t, 7*time.Second, cfg.HealthCheckInterval)
	assert.True(t, cfg.Policy.Configured())
}

func TestLoadRejectsUnparseableInt(t *testing.T) {
	t.Setenv("MCP_TIMEOUT_MINUTES", "twenty")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MCP_TIMEOUT_MINUTES")
}

func TestPolicyConfiguredRequiresAllFields(t *testing.T) {
	p := PolicyConfig{APIURL: "https://x", APIToken: "t"}
	assert.False(t, p.Configured())

	p.ProfileID = "prof"
	assert.True(t, p.Configured())
}
