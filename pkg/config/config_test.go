package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsFromEnvironment(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", "test-key")

	cfg, err := Load("v-test")
	require.NoError(t, err)

	assert.Equal(t, "v-test", cfg.Version)
	assert.Equal(t, "3443", cfg.Port)
	assert.Equal(t, 30, cfg.Session.TTLMinutes)
	assert.Equal(t, 3600, cfg.SchemaCache.TTLSeconds)
	assert.Equal(t, "schema.changed", cfg.SchemaCache.Channel)
	assert.Equal(t, 600, cfg.Router.ContextTTLSeconds)
	assert.Equal(t, float64(10), cfg.Router.ExactNameWeight)
	assert.Equal(t, float64(4), cfg.Router.HistoryBoostCap)
	assert.Equal(t, "anthropic", cfg.Planner.Provider)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", "test-key")
	t.Setenv("SESSION_TTL_MINUTES", "5")
	t.Setenv("ROUTER_HISTORY_BOOST_CAP", "2")

	cfg, err := Load("v-test")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Session.TTLMinutes)
	assert.Equal(t, float64(2), cfg.Router.HistoryBoostCap)
}

func TestLoad_RequiresCredentialsKey(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", "")

	_, err := Load("v-test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CREDENTIALS_KEY")
}

func TestLoad_RejectsInvalidSessionTTL(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", "test-key")
	t.Setenv("SESSION_TTL_MINUTES", "0")

	_, err := Load("v-test")
	assert.Error(t, err)
}

func TestLoad_RejectsHistoryBoostCapAboveExactWeight(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", "test-key")
	t.Setenv("ROUTER_HISTORY_BOOST_CAP", "10")
	t.Setenv("ROUTER_EXACT_NAME_WEIGHT", "10")

	// Recency must never be able to outrank an explicit name match.
	_, err := Load("v-test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history_boost_cap")
}

func TestLoad_RejectsUnknownPlannerProvider(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", "test-key")
	t.Setenv("PLANNER_PROVIDER", "llama-on-a-toaster")

	_, err := Load("v-test")
	assert.Error(t, err)
}

func TestDatabaseConfigURL(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "engine",
		Password: "pw",
		Database: "engine_db",
		SSLMode:  "require",
	}
	assert.Equal(t, "postgres://engine:pw@db.internal:5432/engine_db?sslmode=require", cfg.URL())
}
