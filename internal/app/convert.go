package app

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predator/internal/config"
	"github.com/alanyoungcy/predator/internal/decision"
	"github.com/alanyoungcy/predator/internal/engine"
	"github.com/alanyoungcy/predator/internal/feed"
	"github.com/alanyoungcy/predator/internal/liquidity"
	"github.com/alanyoungcy/predator/internal/manipulation"
	"github.com/alanyoungcy/predator/internal/microstructure"
	"github.com/alanyoungcy/predator/internal/whale"
)

// engineConfig maps the file configuration onto the engine's component
// configs. Addresses are assumed validated.
func engineConfig(cfg *config.Config) engine.Config {
	exchanges := make(map[common.Address]string, len(cfg.Whale.Exchanges))
	for addr, name := range cfg.Whale.Exchanges {
		exchanges[common.HexToAddress(addr)] = name
	}

	return engine.Config{
		Classifier: microstructure.Config{
			Depth:              cfg.Classifier.Depth,
			HistorySize:        cfg.Classifier.HistorySize,
			PressureThreshold:  cfg.Classifier.PressureThreshold,
			LiquidityThreshold: cfg.Classifier.LiquidityThreshold,
			MomentumThreshold:  cfg.Classifier.MomentumThreshold,
			NeutralBand:        cfg.Classifier.NeutralBand,
		},
		Liquidity: liquidity.Config{
			Depth:           cfg.Liquidity.Depth,
			HistorySize:     cfg.Liquidity.HistorySize,
			MinSamples:      cfg.Liquidity.MinSamples,
			ValidPercentile: cfg.Liquidity.ValidPercentile,
			DepthTarget:     cfg.Liquidity.DepthTarget,
			DensityBand:     cfg.Liquidity.DensityBand,
			VolumeTarget:    cfg.Liquidity.VolumeTarget,
			VWAPTolerance:   cfg.Liquidity.VWAPTolerance,
			MaxSpreadBps:    cfg.Liquidity.MaxSpreadBps,
			ImpactNotional:  cfg.Liquidity.ImpactNotional,
			MaxImpactBps:    cfg.Liquidity.MaxImpactBps,
		},
		Spoof: manipulation.SpoofConfig{
			WallSize:        cfg.Spoof.WallSize,
			MinDwell:        cfg.Spoof.MinDwell.Duration,
			DetectionWindow: cfg.Spoof.DetectionWindow.Duration,
			ActiveCount:     cfg.Spoof.ActiveCount,
			RollingWindow:   cfg.Spoof.RollingWindow.Duration,
			StaleAfter:      cfg.Spoof.StaleAfter.Duration,
		},
		Wash: manipulation.WashConfig{
			Window:         cfg.Wash.Window.Duration,
			RapidThreshold: cfg.Wash.RapidThreshold.Duration,
			FlatEpsilon:    cfg.Wash.FlatEpsilon,
			RoundQtyUnit:   cfg.Wash.RoundQtyUnit,
			RoundValueUnit: cfg.Wash.RoundValueUnit,
			TopShare:       cfg.Wash.TopShare,
			Threshold:      cfg.Wash.Threshold,
			MinTrades:      cfg.Wash.MinTrades,
			RecomputeEvery: cfg.Wash.RecomputeEvery.Duration,
			MaxTrades:      cfg.Wash.MaxTrades,
		},
		Detector: whale.DetectorConfig{
			Whales:           addresses(cfg.Whale.Addresses),
			Exchanges:        exchanges,
			DexRouters:       addresses(cfg.Whale.DexRouters),
			Token:            common.HexToAddress(cfg.Asset.TokenAddress),
			TokenDecimals:    uint8(cfg.Asset.TokenDecimals),
			TokenPriceUSD:    cfg.Asset.PriceUSD,
			NativePriceUSD:   cfg.Whale.NativePriceUSD,
			LargeTransferUSD: cfg.Whale.LargeTransferUSD,
			DedupTTL:         cfg.Whale.DedupTTL.Duration,
			DedupCapacity:    cfg.Whale.DedupCapacity,
		},
		Machine: whale.MachineConfig{
			HuntTrigger:       cfg.Whale.HuntTrigger,
			HuntDuration:      cfg.Whale.HuntDuration.Duration,
			DumpValidity:      cfg.Whale.DumpValidity.Duration,
			HistorySize:       cfg.Whale.HistorySize,
			ExtendOnRetrigger: cfg.Whale.ExtendHuntOnRetrigger,
		},
		Decision: decision.Config{
			RejectBelow:  cfg.Decision.RejectBelow,
			LowBelow:     cfg.Decision.LowBelow,
			MediumBelow:  cfg.Decision.MediumBelow,
			FactorHigh:   cfg.Decision.FactorHigh,
			FactorMedium: cfg.Decision.FactorMedium,
			FactorLow:    cfg.Decision.FactorLow,
		},
		OutboxSize:   cfg.Engine.OutboxSize,
		WhaleBuffer:  cfg.Engine.WhaleBuffer,
		RecentLimit:  cfg.Engine.RecentLimit,
		ExpireEvery:  cfg.Engine.ExpireEvery.Duration,
		PublishEvery: cfg.Engine.PublishEvery.Duration,
		LivePrice:    cfg.Asset.LivePrice,
		VolumeWindow: cfg.Engine.VolumeWindow.Duration,
	}
}

// supervisorConfig builds the reconnect policy of one feed.
func supervisorConfig(name string, b config.BackoffConfig, staleAfter time.Duration) feed.SupervisorConfig {
	sc := feed.DefaultSupervisorConfig(name)
	if b.BaseDelay.Duration > 0 {
		sc.BaseDelay = b.BaseDelay.Duration
	}
	if b.MaxDelay.Duration > 0 {
		sc.MaxDelay = b.MaxDelay.Duration
	}
	if b.MaxRetries > 0 {
		sc.MaxRetries = uint32(b.MaxRetries)
	}
	if b.BreakerReset.Duration > 0 {
		sc.BreakerReset = b.BreakerReset.Duration
	}
	sc.StaleAfter = staleAfter
	return sc
}

func addresses(in []string) []common.Address {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		out = append(out, common.HexToAddress(s))
	}
	return out
}
