package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const whaleA = "0x00000000000000000000000000000000000000a1"

func validConfig() Config {
	cfg := Defaults()
	cfg.Whale.Addresses = []string{whaleA}
	cfg.Chain.Providers = []ProviderConfig{{Name: "rpc", URL: "wss://rpc.example/ws"}}
	cfg.OrderBook.Providers = []ProviderConfig{{Name: "book", URL: "wss://book.example/ws"}}
	return cfg
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsNeedOnlyFeedsAndWhales(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	bare := Defaults()
	err := bare.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whale: addresses")
	assert.Contains(t, err.Error(), "chain: at least one provider")
}

func TestLoad_MergesFileOntoDefaults(t *testing.T) {
	path := writeFile(t, `
mode = "engine"

[whale]
addresses = ["`+whaleA+`"]
hunt_duration = "30m"
extend_hunt_on_retrigger = true

[whale.exchanges]
"0x28C6c06298d514Db089934071355E5743bf21d60" = "binance"

[[chain.providers]]
name = "primary"
url = "wss://a.example"

[[chain.providers]]
name = "fallback"
url = "wss://b.example"

[orderbook]
from_bus = true

[redis]
enabled = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeEngine, cfg.Mode)
	assert.Equal(t, 30*time.Minute, cfg.Whale.HuntDuration.Duration)
	assert.True(t, cfg.Whale.ExtendHuntOnRetrigger)
	assert.Equal(t, 6*time.Hour, cfg.Whale.DumpValidity.Duration, "untouched default")
	assert.Equal(t, "binance", cfg.Whale.Exchanges["0x28C6c06298d514Db089934071355E5743bf21d60"])
	require.Len(t, cfg.Chain.Providers, 2)
	assert.Equal(t, "fallback", cfg.Chain.Providers[1].Name)
	assert.True(t, cfg.RunsEngine())
	assert.False(t, cfg.RunsSinks())
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "[whale]\nhunt_trigerr = 5\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whale.hunt_trigerr")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeFile(t, "[whale]\nhunt_duration = \"twelve hours\"\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PREDATOR_WASH_THRESHOLD", "0")
	t.Setenv("PREDATOR_WHALE_HUNT_DURATION", "2h")
	t.Setenv("PREDATOR_WHALE_ADDRESSES", whaleA+", ,0x00000000000000000000000000000000000000b2")
	t.Setenv("PREDATOR_CHAIN_URLS", "wss://one.example/key1,wss://two.example/key2")
	t.Setenv("PREDATOR_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Wash.Threshold)
	assert.Equal(t, 2*time.Hour, cfg.Whale.HuntDuration.Duration)
	assert.Len(t, cfg.Whale.Addresses, 2)
	require.Len(t, cfg.Chain.Providers, 2)
	assert.Equal(t, "chain-2", cfg.Chain.Providers[1].Name)
	assert.Equal(t, 8000, cfg.Server.Port, "unparsable values are ignored")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"bad whale address", func(c *Config) { c.Whale.Addresses = []string{"0xnope"} }, "not a hex address"},
		{"momentum must be negative", func(c *Config) { c.Classifier.MomentumThreshold = 0.3 }, "momentum_threshold"},
		{"dwell inside window", func(c *Config) { c.Spoof.DetectionWindow.Duration = c.Spoof.MinDwell.Duration }, "detection_window"},
		{"quality bands ordered", func(c *Config) { c.Decision.LowBelow = 1 }, "quality bands"},
		{"http provider", func(c *Config) { c.Chain.Providers[0].URL = "https://rpc.example" }, "ws:// or wss://"},
		{"sinks need redis", func(c *Config) { c.Mode = ModeSinks }, "needs redis.enabled"},
		{"journal host", func(c *Config) {
			c.Supabase.Enabled = true
			c.Supabase.Host = ""
		}, "supabase: host"},
		{"percentile range", func(c *Config) { c.Liquidity.ValidPercentile = 101 }, "valid_percentile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ZeroWashThresholdAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Wash.Threshold = 0
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "s3cret"
	cfg.Server.APIKey = "key"
	cfg.Chain.Providers[0].URL = "wss://eth-mainnet.example/v2/abc123"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "wss://eth-mainnet.example/***", out.Chain.Providers[0].URL)
	assert.Empty(t, out.Notify.TelegramToken, "empty secrets stay empty")

	out.Whale.Addresses[0] = "mutated"
	assert.Equal(t, whaleA, cfg.Whale.Addresses[0])
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, "wss://eth-mainnet.example/v2/abc123", cfg.Chain.Providers[0].URL)
}
