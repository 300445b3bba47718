package domain

import "time"

// QualityGrade is the liquidity quality band of a candidate trade.
type QualityGrade string

const (
	QualityHigh   QualityGrade = "HIGH"
	QualityMedium QualityGrade = "MEDIUM"
	QualityLow    QualityGrade = "LOW"
	QualityReject QualityGrade = "REJECT"
)

// Decision reasons. Vetoes are drawn from a closed set so downstream
// reporting can tell them apart.
const (
	ReasonApproved        = "approved"
	ReasonWashTrading     = "wash trading"
	ReasonSystemState     = "system state"
	ReasonManipulation    = "manipulation"
	ReasonLiquidity       = "insufficient liquidity percentile"
	ReasonQuality         = "quality"
	ReasonDataUnavailable = "data unavailable"
)

// TradeDecision is the terminal artifact handed to the execution layer.
type TradeDecision struct {
	ID           string                 `json:"id"`
	Allow        bool                   `json:"allow"`
	Reason       string                 `json:"reason"`
	QualityGrade QualityGrade           `json:"quality_grade"`
	SizingFactor float64                `json:"sizing_factor"`
	Signal       MarketSignal           `json:"signal"`
	SystemState  StateSnapshot          `json:"system_state"`
	Liquidity    LiquidityScore         `json:"liquidity"`
	Manipulation ManipulationAssessment `json:"manipulation"`
	CreatedAt    time.Time              `json:"created_at"`
}
