package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parlay-pool/internal/engine"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ENV", "PORT", "JWT_SECRET", "DATABASE_URL", "LOG_LEVEL", "REDIS_ADDR", "KAFKA_BROKERS", "ORACLE_URL", "ORACLE_SECRET", "ORACLE_CALLBACK_URL", "OPERATOR_EMAIL", "OPERATOR_PASSWORD"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "4000", cfg.Server.Port)
	assert.Equal(t, "simulator", cfg.Oracle.Mode)
	assert.Equal(t, engine.DefaultParams(), cfg.Params())
}

func TestLoadYAMLKeepsUnsetDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
env: staging
pool:
  matches_per_round: 5
  max_legs: 5
  imbalance_threshold_bps: 0
  schedule: count_tier
  claim_window: 2h
  count_tiers:
    - up_to: 3
      multiplier_bps: 20000
    - up_to: 0
      multiplier_bps: 12000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	p := cfg.Params()
	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 5, p.MatchesPerRound)
	assert.Zero(t, p.ImbalanceThresholdBps)
	assert.Equal(t, engine.ScheduleCountTier, p.Schedule)
	assert.Equal(t, 2*time.Hour, p.ClaimWindow)
	assert.Len(t, p.CountTiers, 2)

	def := engine.DefaultParams()
	assert.Equal(t, def.GracePeriod, p.GracePeriod)
	assert.Equal(t, def.WinnerShareBps, p.WinnerShareBps)
	assert.Equal(t, def.DecayBands, p.DecayBands)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "server:\n  port: \"5000\"\nlog:\n  level: warn\n")
	t.Setenv("PORT", "6000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("ORACLE_URL", "http://oracle.local/resolve")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "6000", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "http", cfg.Oracle.Mode)
	assert.Equal(t, "http://localhost:6000/api/oracle/callback", cfg.Oracle.CallbackURL)
	assert.Equal(t, "operator@parlay.local", cfg.Server.OperatorEmail)
}

func TestLoadRejectsInvalidPool(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "pool:\n  capital_share_bps: 9000\n")
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
