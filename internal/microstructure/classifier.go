// Package microstructure turns order-book snapshots into candidate market
// regime signals.
package microstructure

import (
	"log/slog"
	"math"

	"github.com/alanyoungcy/predator/internal/domain"
)

const (
	defaultDepth       = 50
	defaultHistorySize = 300
)

// Config holds the classifier thresholds. Every comparison is strict, so a
// value sitting exactly on a threshold never fires.
type Config struct {
	// Depth is the number of levels per side summed into volumes.
	Depth int
	// HistorySize is the momentum window in samples.
	HistorySize int
	// PressureThreshold is P: ask/bid volume ratio must exceed it.
	PressureThreshold float64
	// LiquidityThreshold is L: bid volume ceiling. L_low is half of it.
	LiquidityThreshold float64
	// MomentumThreshold is M, a negative percentage; CASCADE needs momentum below it.
	MomentumThreshold float64
	// NeutralBand bounds |momentum| for ABSORPTION and PRESSURE_SPIKE.
	NeutralBand float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Depth:              defaultDepth,
		HistorySize:        defaultHistorySize,
		PressureThreshold:  3.0,
		LiquidityThreshold: 100_000,
		MomentumThreshold:  -0.3,
		NeutralBand:        0.1,
	}
}

// Volumes sums level quantities over the top depth levels of each side and
// derives the pressure ratio (0 when there is no bid volume).
func Volumes(snap domain.OrderBookSnapshot, depth int) (bidVol, askVol, ratio float64) {
	bidVol = sumTop(snap.Bids, depth)
	askVol = sumTop(snap.Asks, depth)
	if bidVol > 0 {
		ratio = askVol / bidVol
	}
	return bidVol, askVol, ratio
}

func sumTop(levels []domain.PriceLevel, depth int) float64 {
	if depth <= 0 || depth > len(levels) {
		depth = len(levels)
	}
	var sum float64
	for _, l := range levels[:depth] {
		sum += l.Size
	}
	return sum
}

// Classify is the pure classification rule set. Rules are evaluated in the
// order CASCADE, ABSORPTION, PRESSURE_SPIKE; the first full match wins.
// Malformed snapshots or non-finite inputs yield NONE.
func Classify(snap domain.OrderBookSnapshot, momentum float64, cfg Config) domain.MarketSignal {
	sig := domain.MarketSignal{
		Kind:      domain.SignalNone,
		Momentum:  momentum,
		Timestamp: snap.Timestamp,
	}
	if snap.Validate() != nil || !finite(momentum) {
		return sig
	}

	bidVol, askVol, ratio := Volumes(snap, cfg.Depth)
	sig.BidVolume = bidVol
	sig.AskVolume = askVol
	sig.PressureRatio = ratio
	sig.Price = snap.MidPrice()

	if !finite(ratio) || !(ratio > cfg.PressureThreshold) {
		return sig
	}

	liqHigh := cfg.LiquidityThreshold
	liqLow := liqHigh * 0.5
	neutral := momentum > -cfg.NeutralBand && momentum < cfg.NeutralBand

	switch {
	case bidVol < liqHigh && momentum < cfg.MomentumThreshold:
		sig.Kind = domain.SignalCascade
	case bidVol < liqLow && neutral:
		sig.Kind = domain.SignalAbsorption
	case bidVol > liqLow && bidVol < liqHigh && neutral:
		sig.Kind = domain.SignalPressureSpike
	}
	return sig
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Classifier owns the momentum history and classifies each snapshot as it
// arrives. It is meant to be driven from a single goroutine per asset.
type Classifier struct {
	cfg     Config
	history *PriceHistory
	logger  *slog.Logger
}

// NewClassifier creates a Classifier with an empty momentum history.
func NewClassifier(cfg Config, logger *slog.Logger) *Classifier {
	if cfg.Depth <= 0 {
		cfg.Depth = defaultDepth
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	return &Classifier{
		cfg:     cfg,
		history: NewPriceHistory(cfg.HistorySize),
		logger:  logger.With(slog.String("component", "classifier")),
	}
}

// Observe records the snapshot's mid price into the momentum history and
// classifies the snapshot. A malformed snapshot is logged, left out of the
// history, and classified as NONE.
func (c *Classifier) Observe(snap domain.OrderBookSnapshot) domain.MarketSignal {
	if err := snap.Validate(); err != nil {
		c.logger.Debug("snapshot rejected", slog.String("error", err.Error()))
		return domain.MarketSignal{Kind: domain.SignalNone, Timestamp: snap.Timestamp}
	}
	c.history.Track(snap.MidPrice())
	return Classify(snap, c.history.Momentum(), c.cfg)
}

// Momentum returns the current momentum over the history window.
func (c *Classifier) Momentum() float64 {
	return c.history.Momentum()
}

// Config returns the classifier thresholds.
func (c *Classifier) Config() Config {
	return c.cfg
}

// Reset clears the momentum history.
func (c *Classifier) Reset() {
	c.history.Reset()
}
