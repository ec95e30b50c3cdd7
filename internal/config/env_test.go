package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv(t *testing.T) {
	t.Setenv("STEADYRATE_BASE_URL", "http://wallet:8080")
	t.Setenv("STEADYRATE_RATE", "250.5")
	t.Setenv("STEADYRATE_MAX_VUS", "8")
	t.Setenv("STEADYRATE_SEED", "42")
	t.Setenv("STEADYRATE_LOG_LEVEL", "debug")

	o, err := ParseEnv()
	require.NoError(t, err)

	require.NotNil(t, o.BaseURL)
	assert.Equal(t, "http://wallet:8080", *o.BaseURL)
	assert.Equal(t, 250.5, *o.Rate)
	assert.Equal(t, 8, *o.MaxVUs)
	assert.Equal(t, int64(42), *o.Seed)
	assert.Nil(t, o.Duration)
	assert.Nil(t, o.EntityID)
	assert.Equal(t, "debug", o.LogLevel)
	assert.Equal(t, "text", o.LogFormat)
}

func TestParseEnv_Invalid(t *testing.T) {
	t.Setenv("STEADYRATE_RATE", "fast")

	_, err := ParseEnv()
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := validConfig()
	rate := 50.0
	dur := "2s"
	ApplyEnv(cfg, EnvOverrides{Rate: &rate, Duration: &dur})

	assert.Equal(t, 50.0, cfg.Scenario.Rate)
	assert.Equal(t, "2s", cfg.Scenario.Duration)
	assert.Equal(t, 5, cfg.Scenario.MaxVUs)
	assert.Equal(t, "http://localhost:8080", cfg.Settings.BaseURL)

	empty := &TestConfig{}
	ApplyEnv(empty, EnvOverrides{})
	assert.Nil(t, empty.Scenario)

	id := "wallet-1"
	ApplyEnv(empty, EnvOverrides{EntityID: &id})
	require.NotNil(t, empty.Scenario)
	assert.Equal(t, "wallet-1", empty.Scenario.EntityID)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("STEADYRATE_DURATION=45s\nSTEADYRATE_ENTITY_ID=from-file\n"), 0o600))

	// Already-set variables win over the file.
	t.Setenv("STEADYRATE_ENTITY_ID", "from-env")
	// Registers cleanup for a variable the file sets.
	t.Setenv("STEADYRATE_DURATION", "")
	require.NoError(t, os.Unsetenv("STEADYRATE_DURATION"))

	n, err := LoadEnv(filepath.Join(dir, "missing.env"), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	o, err := ParseEnv()
	require.NoError(t, err)
	require.NotNil(t, o.Duration)
	assert.Equal(t, "45s", *o.Duration)
	assert.Equal(t, "from-env", *o.EntityID)

	n, err = LoadEnv(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
