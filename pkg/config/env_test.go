package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("RESTFLOW_TEST_VAR", "value")

	assert.Equal(t, "value", ExpandEnv("${RESTFLOW_TEST_VAR}"))
	assert.Equal(t, "pre-value-post", ExpandEnv("pre-${RESTFLOW_TEST_VAR}-post"))
	assert.Equal(t, "", ExpandEnv("${RESTFLOW_TEST_UNSET}"))
	assert.Equal(t, "fallback", ExpandEnv("${RESTFLOW_TEST_UNSET:-fallback}"))
	assert.Equal(t, "value", ExpandEnv("${RESTFLOW_TEST_VAR:-fallback}"))
	assert.Equal(t, "no vars here", ExpandEnv("no vars here"))
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, ":8089", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Workers.WorkflowWorkers)
	assert.Equal(t, 4, cfg.Workers.AgentWorkers)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestConfigValidateRejectsUnknownDefaultProvider(t *testing.T) {
	cfg := &Config{DefaultProvider: "ghost"}
	cfg.SetDefaults()
	cfg.DefaultProvider = "ghost"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_provider")
}
