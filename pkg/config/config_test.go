package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RELAY_TOKEN", "test-token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "!cscc", cfg.TriggerPrefix)
	assert.True(t, cfg.MentionTrigger)
	assert.Equal(t, 3, cfg.RateLimitBurst)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Empty(t, cfg.AllowedGroups)
}

func TestLoadAllowedGroupsCSV(t *testing.T) {
	t.Setenv("RELAY_TOKEN", "test-token")
	t.Setenv("ALLOWED_GROUPS", "123@g.us, 456@g.us ,,789@g.us")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"123@g.us", "456@g.us", "789@g.us"}, cfg.AllowedGroups)
}

func TestLoadMissingToken(t *testing.T) {
	t.Setenv("RELAY_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELAY_TOKEN")
}

func TestValidateBadPort(t *testing.T) {
	cfg := &Config{Port: -1, RelayToken: "x", AgentBaseURL: "http://localhost", RateLimitBurst: 3}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}
