// Package decision merges classifier, liquidity, manipulation and gating
// evidence into a TradeDecision.
package decision

import (
	"math"
	"time"

	"github.com/alanyoungcy/predator/internal/domain"
)

// Config holds the quality breakpoints and sizing factors.
type Config struct {
	RejectBelow  float64 // bid volume below this is REJECT
	LowBelow     float64 // ...below this LOW
	MediumBelow  float64 // ...below this MEDIUM, otherwise HIGH
	FactorHigh   float64
	FactorMedium float64
	FactorLow    float64
}

// DefaultConfig returns the stock combiner parameters.
func DefaultConfig() Config {
	return Config{
		RejectBelow:  10_000,
		LowBelow:     25_000,
		MediumBelow:  50_000,
		FactorHigh:   1.0,
		FactorMedium: 0.66,
		FactorLow:    0.33,
	}
}

// Inputs is everything one decision is computed from.
type Inputs struct {
	Signal        domain.MarketSignal
	State         domain.StateSnapshot
	Liquidity     domain.LiquidityScore
	Manipulation  domain.ManipulationAssessment
	OpenPositions int
	// EvidenceUnavailable is set when the whale event sources have failed,
	// so the current state cannot be trusted to reflect the chain.
	EvidenceUnavailable bool
	Now                 time.Time
}

// Combine evaluates the vetoes in order and grades the survivor. It is a pure
// function of its arguments; the caller assigns the decision ID.
func Combine(in Inputs, cfg Config) domain.TradeDecision {
	d := domain.TradeDecision{
		Signal:       in.Signal,
		SystemState:  in.State,
		Liquidity:    in.Liquidity,
		Manipulation: in.Manipulation,
		QualityGrade: Grade(in.Signal.BidVolume, cfg),
		CreatedAt:    in.Now,
	}

	switch {
	case !in.Signal.Actionable() || in.State.State == "" ||
		in.Liquidity.Timestamp.IsZero() || in.Manipulation.ComputedAt.IsZero():
		return reject(d, domain.ReasonDataUnavailable)
	case in.Manipulation.DisableTrading:
		return reject(d, domain.ReasonWashTrading)
	case !in.State.HuntActive(in.Now):
		return reject(d, domain.ReasonSystemState)
	case in.EvidenceUnavailable:
		return reject(d, domain.ReasonDataUnavailable)
	case in.Manipulation.SpoofingActive:
		return reject(d, domain.ReasonManipulation)
	case !in.Liquidity.ValidForSignal:
		return reject(d, domain.ReasonLiquidity)
	case d.QualityGrade == domain.QualityReject:
		return reject(d, domain.ReasonQuality)
	}

	d.Allow = true
	d.Reason = domain.ReasonApproved
	d.SizingFactor = Sizing(d.QualityGrade, in.State.Confidence, in.OpenPositions, cfg)
	return d
}

func reject(d domain.TradeDecision, reason string) domain.TradeDecision {
	d.Allow = false
	d.Reason = reason
	d.SizingFactor = 0
	return d
}

// Grade maps bid volume onto a quality band.
func Grade(bidVolume float64, cfg Config) domain.QualityGrade {
	switch {
	case math.IsNaN(bidVolume) || bidVolume < cfg.RejectBelow:
		return domain.QualityReject
	case bidVolume < cfg.LowBelow:
		return domain.QualityLow
	case bidVolume < cfg.MediumBelow:
		return domain.QualityMedium
	default:
		return domain.QualityHigh
	}
}

// Sizing scales the grade factor by confidence and shrinks it as open
// positions grow. The result is in [0,1].
func Sizing(grade domain.QualityGrade, confidence float64, openPositions int, cfg Config) float64 {
	var factor float64
	switch grade {
	case domain.QualityHigh:
		factor = cfg.FactorHigh
	case domain.QualityMedium:
		factor = cfg.FactorMedium
	case domain.QualityLow:
		factor = cfg.FactorLow
	default:
		return 0
	}
	if openPositions < 0 {
		openPositions = 0
	}
	v := factor * confidence / float64(1+openPositions)
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
