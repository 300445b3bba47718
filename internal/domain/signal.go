package domain

import "time"

// SignalKind is the market regime a microstructure classification resolved to.
type SignalKind string

const (
	SignalCascade       SignalKind = "CASCADE"
	SignalAbsorption    SignalKind = "ABSORPTION"
	SignalPressureSpike SignalKind = "PRESSURE_SPIKE"
	SignalNone          SignalKind = "NONE"
)

// MarketSignal is a single classifier output. It is immutable once emitted.
type MarketSignal struct {
	Kind          SignalKind `json:"kind"`
	PressureRatio float64    `json:"pressure_ratio"`
	BidVolume     float64    `json:"bid_volume"`
	AskVolume     float64    `json:"ask_volume"`
	Momentum      float64    `json:"momentum"` // percent change over the history window
	Price         float64    `json:"price"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Actionable reports whether the signal names a regime worth evaluating.
func (s MarketSignal) Actionable() bool {
	return s.Kind != "" && s.Kind != SignalNone
}
