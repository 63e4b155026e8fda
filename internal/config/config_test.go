package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chTempDir(t) // no config.yaml present

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://serpapi.com", cfg.SerpAPI.BaseURL)
	assert.Equal(t, "pt-BR", cfg.SerpAPI.Locale)
	assert.Equal(t, "br", cfg.SerpAPI.Country)
	assert.Equal(t, "https://api.firecrawl.dev/v1", cfg.Firecrawl.BaseURL)
	assert.Equal(t, 3, cfg.Consensus.TargetCount)
	assert.InDelta(t, 25.0, cfg.Consensus.InitialTolerancePct, 0.001)
	assert.InDelta(t, 5.0, cfg.Consensus.ToleranceStepPct, 0.001)
	assert.InDelta(t, 60.0, cfg.Consensus.ToleranceCeilingPct, 0.001)
	assert.Equal(t, 10, cfg.Consensus.MaxRounds)
	assert.Equal(t, 10, cfg.Consensus.MaxBlockSpan)
	assert.True(t, cfg.Resolver.PriceCheck)
	assert.InDelta(t, 5.0, cfg.Resolver.MismatchPct, 0.001)
	assert.Equal(t, "search", cfg.Extract.PriceSource)
	assert.True(t, cfg.Extract.Screenshot)
	assert.Equal(t, 30, cfg.Extract.TimeoutSecs)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 4, cfg.Queue.Concurrency)
	assert.InDelta(t, 0.015, cfg.Pricing.SerpAPIPerSearch, 0.0001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/quotes
log:
  level: debug
  format: console
server:
  port: 9090
consensus:
  target_count: 5
  initial_tolerance_pct: 20
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Consensus.TargetCount)
	assert.InDelta(t, 20.0, cfg.Consensus.InitialTolerancePct, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Consensus.MaxRounds)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("QUOTE_STORE_DRIVER", "sqlite")
	t.Setenv("QUOTE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chTempDir(t)

	t.Setenv("QUOTE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
consensus:
  target_count: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate")
}

func TestLoadRejectsCeilingBelowInitial(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
consensus:
  initial_tolerance_pct: 50
  tolerance_ceiling_pct: 40
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ceiling")
}

func TestLoadBlocklistFile(t *testing.T) {
	dir := chTempDir(t)

	blocklist := `
domains:
  - mercadolivre.com.br
  - americanas.com.br
`
	path := filepath.Join(dir, "blocklist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(blocklist), 0644))

	yaml := `
filter:
  blocklist_path: ` + path + `
  blocklist:
    - shopee.com.br
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"shopee.com.br", "mercadolivre.com.br", "americanas.com.br"},
		cfg.Filter.Blocklist)
}

func TestLoadBlocklistMissingFile(t *testing.T) {
	_, err := LoadBlocklist("/nonexistent/blocklist.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read blocklist")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
