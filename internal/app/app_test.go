package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predator/internal/bus"
	"github.com/alanyoungcy/predator/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWire_InProcessDefaults(t *testing.T) {
	cfg := config.Defaults()
	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &bus.Memory{}, deps.Bus)
	assert.Nil(t, deps.Snapshots)
	assert.Nil(t, deps.Leases)
	assert.Nil(t, deps.Journal)
	assert.Nil(t, deps.Exporter)
	assert.NotNil(t, deps.Metrics)
	assert.False(t, deps.Notifier.Enabled())
	assert.Empty(t, deps.Checks)
}

func TestWire_NotifierFromCredentials(t *testing.T) {
	cfg := config.Defaults()
	cfg.Notify.DiscordWebhookURL = "https://discord.example/webhook"
	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()
	assert.True(t, deps.Notifier.Enabled())
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Asset.TokenAddress = "0x6982508145454Ce325dDbE47a25d4ec3d2311933"
	cfg.Asset.PriceUSD = 0.00001
	cfg.Whale.Addresses = []string{"0x00000000000000000000000000000000000000a1"}
	cfg.Whale.Exchanges = map[string]string{"0x28C6c06298d514Db089934071355E5743bf21d60": "binance"}
	cfg.Whale.ExtendHuntOnRetrigger = true

	ec := engineConfig(&cfg)
	require.Len(t, ec.Detector.Whales, 1)
	assert.Equal(t, common.HexToAddress("0xa1"), ec.Detector.Whales[0])
	assert.Equal(t, "binance", ec.Detector.Exchanges[common.HexToAddress("0x28C6c06298d514Db089934071355E5743bf21d60")])
	assert.Equal(t, uint8(18), ec.Detector.TokenDecimals)
	assert.Equal(t, 0.00001, ec.Detector.TokenPriceUSD)
	assert.Equal(t, 3_000_000.0, ec.Machine.HuntTrigger)
	assert.Equal(t, 12*time.Hour, ec.Machine.HuntDuration)
	assert.True(t, ec.Machine.ExtendOnRetrigger)
	assert.Equal(t, 300_000.0, ec.Spoof.WallSize)
	assert.Equal(t, 75.0, ec.Wash.Threshold)
	assert.Equal(t, 24*time.Hour, ec.VolumeWindow)
	assert.Equal(t, 0.66, ec.Decision.FactorMedium)
}

func TestSupervisorConfig(t *testing.T) {
	cfg := config.Defaults()
	sc := supervisorConfig("chain", cfg.Chain.Backoff, 10*time.Minute)
	assert.Equal(t, "chain", sc.Name)
	assert.Equal(t, time.Second, sc.BaseDelay)
	assert.Equal(t, 30*time.Second, sc.MaxDelay)
	assert.Equal(t, uint32(5), sc.MaxRetries)
	assert.Equal(t, 10*time.Minute, sc.StaleAfter)

	var zero config.BackoffConfig
	sc = supervisorConfig("orderbook", zero, time.Minute)
	assert.Equal(t, time.Second, sc.BaseDelay, "zero backoff keeps stock values")
}

func TestRun_UnsupportedMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "scrape"
	a := New(&cfg, discardLogger())
	defer a.Close()
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}

func TestSinksMode_StopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	a := New(&cfg, discardLogger())
	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.SinksMode(ctx, deps) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sinks mode did not stop")
	}
}
