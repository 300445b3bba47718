package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/predator/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// approvable returns inputs that pass every veto.
func approvable() Inputs {
	return Inputs{
		Signal: domain.MarketSignal{
			Kind:          domain.SignalCascade,
			PressureRatio: 4,
			BidVolume:     60_000,
			AskVolume:     240_000,
			Momentum:      -0.5,
			Price:         100,
			Timestamp:     t0,
		},
		State: domain.StateSnapshot{
			State:         domain.StateHunting,
			EnteredAt:     t0.Add(-time.Hour),
			HuntExpiresAt: t0.Add(11 * time.Hour),
			Confidence:    0.9,
		},
		Liquidity:    domain.LiquidityScore{Value: 80, Percentile: 90, ValidForSignal: true, Timestamp: t0},
		Manipulation: domain.ManipulationAssessment{RiskLevel: domain.RiskLow, ComputedAt: t0},
		Now:          t0,
	}
}

func TestCombine_Approves(t *testing.T) {
	d := Combine(approvable(), DefaultConfig())
	assert.True(t, d.Allow)
	assert.Equal(t, domain.ReasonApproved, d.Reason)
	assert.Equal(t, domain.QualityHigh, d.QualityGrade)
	assert.InDelta(t, 0.9, d.SizingFactor, 1e-9)
	assert.Equal(t, t0, d.CreatedAt)
}

func TestCombine_Vetoes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Inputs)
		reason string
	}{
		{"no signal", func(in *Inputs) { in.Signal.Kind = domain.SignalNone }, domain.ReasonDataUnavailable},
		{"no liquidity yet", func(in *Inputs) { in.Liquidity = domain.LiquidityScore{} }, domain.ReasonDataUnavailable},
		{"no manipulation yet", func(in *Inputs) { in.Manipulation = domain.ManipulationAssessment{} }, domain.ReasonDataUnavailable},
		{"no state", func(in *Inputs) { in.State = domain.StateSnapshot{} }, domain.ReasonDataUnavailable},
		{"wash", func(in *Inputs) { in.Manipulation.DisableTrading = true }, domain.ReasonWashTrading},
		{"patient", func(in *Inputs) { in.State.State = domain.StatePatient }, domain.ReasonSystemState},
		{"defensive", func(in *Inputs) { in.State.State = domain.StateDefensive }, domain.ReasonSystemState},
		{"strike", func(in *Inputs) { in.State.State = domain.StateStrike }, domain.ReasonSystemState},
		{"elapsed hunt", func(in *Inputs) { in.Now = t0.Add(12 * time.Hour) }, domain.ReasonSystemState},
		{"whale feed down", func(in *Inputs) { in.EvidenceUnavailable = true }, domain.ReasonDataUnavailable},
		{"spoofing", func(in *Inputs) { in.Manipulation.SpoofingActive = true }, domain.ReasonManipulation},
		{"liquidity", func(in *Inputs) { in.Liquidity.ValidForSignal = false }, domain.ReasonLiquidity},
		{"quality", func(in *Inputs) { in.Signal.BidVolume = 9_999 }, domain.ReasonQuality},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := approvable()
			tt.mutate(&in)
			d := Combine(in, DefaultConfig())
			assert.False(t, d.Allow)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Zero(t, d.SizingFactor)
		})
	}
}

func TestCombine_VetoOrder(t *testing.T) {
	in := approvable()
	in.Manipulation.DisableTrading = true
	in.State.State = domain.StatePatient
	in.Manipulation.SpoofingActive = true
	in.Liquidity.ValidForSignal = false
	in.Signal.BidVolume = 1
	assert.Equal(t, domain.ReasonWashTrading, Combine(in, DefaultConfig()).Reason)

	in.Manipulation.DisableTrading = false
	assert.Equal(t, domain.ReasonSystemState, Combine(in, DefaultConfig()).Reason)

	in.State.State = domain.StateHunting
	assert.Equal(t, domain.ReasonManipulation, Combine(in, DefaultConfig()).Reason)

	in.Manipulation.SpoofingActive = false
	assert.Equal(t, domain.ReasonLiquidity, Combine(in, DefaultConfig()).Reason)

	in.Liquidity.ValidForSignal = true
	assert.Equal(t, domain.ReasonQuality, Combine(in, DefaultConfig()).Reason)
}

func TestCombine_Deterministic(t *testing.T) {
	in := approvable()
	in.OpenPositions = 2
	first := Combine(in, DefaultConfig())
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Combine(in, DefaultConfig()))
	}
}

func TestGrade(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		vol  float64
		want domain.QualityGrade
	}{
		{0, domain.QualityReject},
		{9_999.99, domain.QualityReject},
		{10_000, domain.QualityLow},
		{25_000, domain.QualityMedium},
		{49_999, domain.QualityMedium},
		{50_000, domain.QualityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Grade(tt.vol, cfg), "volume %v", tt.vol)
	}
}

func TestSizing_MonotonicInExposure(t *testing.T) {
	cfg := DefaultConfig()
	for _, g := range []domain.QualityGrade{domain.QualityHigh, domain.QualityMedium, domain.QualityLow} {
		prev := Sizing(g, 1, 0, cfg)
		for open := 1; open <= 10; open++ {
			next := Sizing(g, 1, open, cfg)
			assert.Less(t, next, prev, "grade %s open %d", g, open)
			prev = next
		}
	}
	assert.Equal(t, 0.0, Sizing(domain.QualityReject, 1, 0, cfg))
	assert.Equal(t, 1.0, Sizing(domain.QualityHigh, 5, 0, cfg), "clamped")
	assert.Greater(t, Sizing(domain.QualityHigh, 1, 0, cfg), Sizing(domain.QualityMedium, 1, 0, cfg))
}
