package domain

import "time"

// RiskLevel grades overall manipulation risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ManipulationAssessment combines the spoof-wall and wash-trade detectors.
type ManipulationAssessment struct {
	SpoofingActive bool      `json:"spoofing_active"`
	SpoofCount     int       `json:"spoof_count"`
	WashScore      float64   `json:"wash_score"`
	DisableTrading bool      `json:"disable_trading"`
	RiskLevel      RiskLevel `json:"risk_level"`
	TradeSamples   int       `json:"trade_samples"`
	ComputedAt     time.Time `json:"computed_at"`
}
