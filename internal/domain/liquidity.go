package domain

import "time"

// LiquidityRegime is the discrete label derived from a liquidity percentile.
type LiquidityRegime string

const (
	LiquidityCritical  LiquidityRegime = "CRITICAL"
	LiquidityLow       LiquidityRegime = "LOW"
	LiquidityNormal    LiquidityRegime = "NORMAL"
	LiquidityHigh      LiquidityRegime = "HIGH"
	LiquidityUltraHigh LiquidityRegime = "ULTRA_HIGH"
)

// LiquidityComponents are the normalised 0-100 sub-scores of a composite.
type LiquidityComponents struct {
	Depth   float64 `json:"depth"`
	Density float64 `json:"density"`
	Volume  float64 `json:"volume"`
	Spread  float64 `json:"spread"`
	Impact  float64 `json:"impact"`
}

// LiquidityScore is a Dynamic Liquidity Score ranked against its own history.
type LiquidityScore struct {
	Value          float64             `json:"value"`
	Percentile     float64             `json:"percentile"`
	Regime         LiquidityRegime     `json:"regime"`
	ValidForSignal bool                `json:"valid_for_signal"`
	Components     LiquidityComponents `json:"components"`
	SpreadBps      float64             `json:"spread_bps"`
	ImpactBps      float64             `json:"impact_bps"`
	Samples        int                 `json:"samples"`
	Timestamp      time.Time           `json:"timestamp"`
}
