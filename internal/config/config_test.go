package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartpilot/analysis-engine/internal/models"
	"github.com/chartpilot/analysis-engine/internal/provider"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHARTPILOT_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":50051", cfg.Server.Address)
	assert.Equal(t, QuotaBackendMemory, cfg.Quota.Backend)
	assert.Equal(t, models.TierFree, cfg.Quota.DefaultTier)
	assert.Equal(t, 3, cfg.Capture.Retry.MaxAttempts)
	assert.Equal(t, provider.KindOpenAI, cfg.Provider.Kind)
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":6000"
provider:
  kind: anthropic
  model: claude-test
  timeout: 30s
quota:
  backend: redis
  default_tier: starter
  subjects:
    vip: pro
  limits:
    deep:
      free:
        daily: 2
cache:
  addr: "localhost:6379"
  db: 3
history:
  path: /tmp/history.db
capture:
  retry:
    max_attempts: 5
`)
	t.Setenv("CHARTPILOT_SERVER_HTTP_ADDRESS", ":9090")
	t.Setenv("CHARTPILOT_PROVIDER_API_KEY", "sk-test")
	t.Setenv("CHARTPILOT_LOG_LEVEL", "debug")
	t.Setenv("CHARTPILOT_CAPTURE_RETRY_EXTRA_DELAY", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.Server.Address)
	assert.Equal(t, ":9090", cfg.Server.HTTPAddress)
	assert.Equal(t, provider.KindAnthropic, cfg.Provider.Kind)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "localhost:6379", cfg.Cache.Addr)
	assert.Equal(t, 3, cfg.Cache.DB)
	assert.Equal(t, 5, cfg.Capture.Retry.MaxAttempts)
	assert.Equal(t, 750*time.Millisecond, cfg.Capture.Retry.ExtraDelay)
	assert.Equal(t, 3*time.Second, cfg.Capture.Retry.InitialWait)

	tiers := cfg.TierResolver()
	assert.Equal(t, models.TierStarter, tiers.Default)
	assert.Equal(t, models.TierPro, tiers.Subjects["vip"])

	l, err := cfg.LimitTable().Lookup(models.TierFree, models.FeatureDeep)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Daily)
	assert.Equal(t, 30, l.Monthly)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateJoinsProblems(t *testing.T) {
	cfg := Default()
	cfg.Provider.Kind = "cohere"
	cfg.Quota.Backend = "redis"
	cfg.Quota.DefaultTier = "gold"
	cfg.Capture.Retry.MaxAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"provider.kind", "requires cache.addr", "default_tier", "max_attempts"} {
		assert.Contains(t, msg, want)
	}
}
