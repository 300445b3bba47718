// Package liquidity computes the Dynamic Liquidity Score: a weighted 0-100
// composite of book depth, density, volume profile, spread and market impact,
// ranked against its own rolling history instead of a static volume cutoff.
package liquidity

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/alanyoungcy/predator/internal/domain"
)

// Composite weights.
const (
	weightDepth   = 0.30
	weightDensity = 0.25
	weightVolume  = 0.20
	weightSpread  = 0.15
	weightImpact  = 0.10
)

// neutralPercentile is reported while the history is too short to rank against.
const neutralPercentile = 50.0

// Config holds the normalisation constants and ranking parameters.
type Config struct {
	Depth           int     // levels per side
	HistorySize     int     // circular window capacity
	MinSamples      int     // below this the percentile is neutral
	ValidPercentile float64 // minimum percentile for signal use
	DepthTarget     float64 // quote notional scoring 100 on depth
	DensityBand     float64 // fraction of mid, e.g. 0.01 for +-1%
	VolumeTarget    float64 // recent quote volume scoring 100
	VWAPTolerance   float64 // mid/VWAP deviation at which proximity reaches 0
	MaxSpreadBps    float64 // spread at which the spread score reaches 0
	ImpactNotional  float64 // notional walked through the asks
	MaxImpactBps    float64 // impact at which the impact score reaches 0
}

// DefaultConfig returns the stock scorer parameters.
func DefaultConfig() Config {
	return Config{
		Depth:           50,
		HistorySize:     1440,
		MinSamples:      10,
		ValidPercentile: 75,
		DepthTarget:     2_000_000,
		DensityBand:     0.01,
		VolumeTarget:    50_000_000,
		VWAPTolerance:   0.02,
		MaxSpreadBps:    50,
		ImpactNotional:  10_000,
		MaxImpactBps:    100,
	}
}

// Evaluation is the history-independent part of a score.
type Evaluation struct {
	Value      float64
	Components domain.LiquidityComponents
	SpreadBps  float64
	ImpactBps  float64
}

// Evaluate computes the composite for a snapshot. It is a pure function.
func Evaluate(snap domain.OrderBookSnapshot, profile domain.VolumeProfile, cfg Config) (Evaluation, error) {
	if err := snap.Validate(); err != nil {
		return Evaluation{}, err
	}
	mid := snap.MidPrice()
	bids := top(snap.Bids, cfg.Depth)
	asks := top(snap.Asks, cfg.Depth)

	var ev Evaluation
	ev.Components.Depth, ev.Components.Density = depthAndDensity(bids, asks, mid, cfg)
	ev.Components.Volume = volumeScore(profile, mid, cfg)
	ev.SpreadBps, ev.Components.Spread = spreadScore(snap.BestBid(), snap.BestAsk(), cfg)
	ev.ImpactBps, ev.Components.Impact = impactScore(asks, cfg)

	ev.Value = clamp(
		weightDepth*ev.Components.Depth+
			weightDensity*ev.Components.Density+
			weightVolume*ev.Components.Volume+
			weightSpread*ev.Components.Spread+
			weightImpact*ev.Components.Impact,
		0, 100)
	return ev, nil
}

func top(levels []domain.PriceLevel, depth int) []domain.PriceLevel {
	if depth <= 0 || depth > len(levels) {
		return levels
	}
	return levels[:depth]
}

func depthAndDensity(bids, asks []domain.PriceLevel, mid float64, cfg Config) (depth, density float64) {
	var total, near float64
	lo, hi := mid*(1-cfg.DensityBand), mid*(1+cfg.DensityBand)
	for _, side := range [][]domain.PriceLevel{bids, asks} {
		for _, l := range side {
			n := l.Price * l.Size
			total += n
			if l.Price >= lo && l.Price <= hi {
				near += n
			}
		}
	}
	if cfg.DepthTarget > 0 {
		depth = clamp(total/cfg.DepthTarget*100, 0, 100)
	}
	if total > 0 {
		density = clamp(near/total*100, 0, 100)
	}
	return depth, density
}

func volumeScore(p domain.VolumeProfile, mid float64, cfg Config) float64 {
	if !(p.Volume > 0) || cfg.VolumeTarget <= 0 {
		return neutralPercentile
	}
	base := clamp(p.Volume/cfg.VolumeTarget*100, 0, 100)
	if p.VWAP > 0 && mid > 0 && cfg.VWAPTolerance > 0 {
		dev := math.Abs(mid-p.VWAP) / p.VWAP
		proximity := clamp(1-dev/cfg.VWAPTolerance, 0, 1)
		base *= 0.5 + 0.5*proximity
	}
	return base
}

func spreadScore(bid, ask float64, cfg Config) (bps, score float64) {
	if bid <= 0 || ask <= 0 || ask < bid {
		return 0, 0
	}
	mid := (bid + ask) / 2
	bps = (ask - bid) / mid * 10_000
	if cfg.MaxSpreadBps <= 0 {
		return bps, 0
	}
	return bps, clamp(100-bps/cfg.MaxSpreadBps*100, 0, 100)
}

// impactScore walks the ask side buying ImpactNotional and measures the
// average fill against the best ask. A book too thin to fill scores 0.
func impactScore(asks []domain.PriceLevel, cfg Config) (bps, score float64) {
	if len(asks) == 0 || cfg.ImpactNotional <= 0 {
		return cfg.MaxImpactBps, 0
	}
	remaining := cfg.ImpactNotional
	var qty float64
	for _, l := range asks {
		if remaining <= 0 {
			break
		}
		take := math.Min(remaining, l.Price*l.Size)
		qty += take / l.Price
		remaining -= take
	}
	if remaining > 1e-9 || qty <= 0 {
		return cfg.MaxImpactBps, 0
	}
	avg := cfg.ImpactNotional / qty
	best := asks[0].Price
	bps = (avg - best) / best * 10_000
	if cfg.MaxImpactBps <= 0 {
		return bps, 0
	}
	return bps, clamp(100-bps/cfg.MaxImpactBps*100, 0, 100)
}

// Percentile ranks v against history: the share of samples below v plus half
// the share equal to v, in percent. With fewer than minSamples samples it
// returns the neutral 50.
func Percentile(history []float64, v float64, minSamples int) float64 {
	if len(history) < minSamples || len(history) == 0 {
		return neutralPercentile
	}
	var below, equal int
	for _, h := range history {
		switch {
		case h < v:
			below++
		case h == v:
			equal++
		}
	}
	return (float64(below) + 0.5*float64(equal)) / float64(len(history)) * 100
}

// RegimeFor maps a percentile to its discrete label.
func RegimeFor(percentile float64) domain.LiquidityRegime {
	switch {
	case percentile < 10:
		return domain.LiquidityCritical
	case percentile < 25:
		return domain.LiquidityLow
	case percentile < 75:
		return domain.LiquidityNormal
	case percentile < 90:
		return domain.LiquidityHigh
	default:
		return domain.LiquidityUltraHigh
	}
}

// Scorer maintains the rolling history and produces ranked scores. Score is
// called from the snapshot path; Latest may be read concurrently.
type Scorer struct {
	cfg    Config
	mu     sync.RWMutex
	window *Window
	latest domain.LiquidityScore
	logger *slog.Logger
}

// NewScorer creates a Scorer with a cold history.
func NewScorer(cfg Config, logger *slog.Logger) *Scorer {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultConfig().MinSamples
	}
	return &Scorer{
		cfg:    cfg,
		window: NewWindow(cfg.HistorySize),
		logger: logger.With(slog.String("component", "liquidity_scorer")),
	}
}

// Score evaluates the snapshot, ranks it against the history recorded so far
// and then appends it to the history. A malformed snapshot yields a neutral,
// not-valid score that is kept out of the history, plus the cause.
func (s *Scorer) Score(snap domain.OrderBookSnapshot, profile domain.VolumeProfile) (domain.LiquidityScore, error) {
	ev, err := Evaluate(snap, profile, s.cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		return domain.LiquidityScore{
			Percentile: neutralPercentile,
			Regime:     RegimeFor(neutralPercentile),
			Samples:    s.window.Len(),
			Timestamp:  snap.Timestamp,
		}, fmt.Errorf("liquidity: score: %w", err)
	}

	pct := Percentile(s.window.Values(), ev.Value, s.cfg.MinSamples)
	score := domain.LiquidityScore{
		Value:          ev.Value,
		Percentile:     pct,
		Regime:         RegimeFor(pct),
		ValidForSignal: pct >= s.cfg.ValidPercentile,
		Components:     ev.Components,
		SpreadBps:      ev.SpreadBps,
		ImpactBps:      ev.ImpactBps,
		Samples:        s.window.Len(),
		Timestamp:      snap.Timestamp,
	}
	s.window.Add(ev.Value)
	s.latest = score
	return score, nil
}

// Latest returns the most recent valid score.
func (s *Scorer) Latest() domain.LiquidityScore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Samples returns the history length.
func (s *Scorer) Samples() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window.Len()
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Reset drops the history so the scorer re-warms from a cold start.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = NewWindow(s.cfg.HistorySize)
	s.latest = domain.LiquidityScore{}
}
