package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_KEY", "k")
	t.Setenv("SECRET_KEY", "s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "btc_jpy", cfg.Symbol)
	assert.Equal(t, 0.02, cfg.OrderSize)
	assert.Equal(t, 1.0, cfg.PriceIncrement)
	assert.Equal(t, 0.00000001, cfg.SizeIncrement)
	assert.Equal(t, 0.005, cfg.MinOrderSize)
	assert.Equal(t, 20*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.ExecuteInterval)
	assert.Equal(t, time.Second, cfg.SubscribeDelay)
	assert.Equal(t, "https://coincheck.com", cfg.RestBaseURL)
	assert.Equal(t, "wss://ws-api.coincheck.com", cfg.WSURL)
	assert.Equal(t, 0.0, cfg.MaxSellSize())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
symbol: eth_jpy
order_size: 0.5
max_size_multiple: 2
reconcile_interval: 30s
dry_run: true
rest_base_url: http://localhost:8080/
`), 0o644))
	t.Setenv("ORDER_SIZE", "0.3")
	t.Setenv("EXECUTE_INTERVAL", "500ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "eth_jpy", cfg.Symbol)
	assert.Equal(t, 0.3, cfg.OrderSize)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.ExecuteInterval)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "http://localhost:8080", cfg.RestBaseURL)
	assert.InDelta(t, 0.6, cfg.MaxSellSize(), 1e-12)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("RECONCILE_INTERVAL", "soon")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_UnsupportedExt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.toml")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Setenv("API_KEY", "k")
		t.Setenv("SECRET_KEY", "s")
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Credentials = Credentials{}
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.MinOrderSize = 0.05
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ExecuteInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Symbol = " "
	assert.Error(t, cfg.Validate())
}
