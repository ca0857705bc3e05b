package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Len(t, cfg.Market.Endpoints, 3)
	assert.Contains(t, cfg.Market.Endpoints[0], "query2.finance.yahoo.com/v8/finance/chart/{symbol}")
	assert.Equal(t, "https://corsproxy.io/?", cfg.Market.Proxies[0])
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOGL", "TSLA"}, cfg.Market.InitialSymbols)
	assert.True(t, cfg.Market.OfflineEnabled)
	assert.False(t, cfg.BriefAgent.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
market:
  endpoints: ["http://localhost:1/chart/{symbol}"]
  proxies: []
  concurrency: 3
brief_agent:
  enabled: true
  model: qwen-plus
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:1/chart/{symbol}"}, cfg.Market.Endpoints)
	assert.Empty(t, cfg.Market.Proxies)
	assert.Equal(t, 3, cfg.Market.Concurrency)
	assert.Equal(t, 8000, cfg.Market.AttemptTimeoutMs)
	assert.True(t, cfg.BriefAgent.Enabled)
	assert.Equal(t, "qwen-plus", cfg.BriefAgent.Model)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("QUOTE_ENDPOINTS", "http://a/{symbol}, http://b/{symbol} ,")
	t.Setenv("QUOTE_PROXIES", "")
	t.Setenv("QUOTE_CONCURRENCY", "2")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("BRIEF_AGENT_ENABLED", "true")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"http://a/{symbol}", "http://b/{symbol}"}, cfg.Market.Endpoints)
	assert.Empty(t, cfg.Market.Proxies)
	assert.Equal(t, 2, cfg.Market.Concurrency)
	assert.Equal(t, "/tmp/x.db", cfg.Store.Sqlite.Path)
	assert.True(t, cfg.BriefAgent.Enabled)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_Rejects(t *testing.T) {
	t.Run("bad port env", func(t *testing.T) {
		t.Setenv("PORT", "http")
		_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.ErrorContains(t, err, "invalid PORT")
	})
	t.Run("empty endpoints", func(t *testing.T) {
		_, err := Load(writeConfig(t, "market:\n  endpoints: []\n"))
		require.ErrorContains(t, err, "market.endpoints")
	})
	t.Run("unknown log format", func(t *testing.T) {
		_, err := Load(writeConfig(t, "log:\n  format: xml\n"))
		require.ErrorContains(t, err, "log.format")
	})
	t.Run("broken yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [\n"))
		require.ErrorContains(t, err, "parse config")
	})
}

func TestRepoConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultPath))
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Market.RequestsPerSecond)
	assert.Equal(t, 2, cfg.Market.Burst)
}
