package manipulation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/predator/internal/domain"
)

// Monitor owns both detectors and produces ManipulationAssessments. Spoof
// status is read live; the wash score is refreshed on its own cadence.
type Monitor struct {
	spoof  *SpoofDetector
	wash   *WashDetector
	washTh float64

	mu     sync.RWMutex
	latest domain.ManipulationAssessment
	logger *slog.Logger
}

// NewMonitor creates a Monitor around fresh detectors.
func NewMonitor(spoofCfg SpoofConfig, washCfg WashConfig, logger *slog.Logger) *Monitor {
	return &Monitor{
		spoof:  NewSpoofDetector(spoofCfg, logger),
		wash:   NewWashDetector(washCfg, logger),
		washTh: washCfg.Threshold,
		logger: logger.With(slog.String("component", "manipulation_monitor")),
		latest: domain.ManipulationAssessment{RiskLevel: domain.RiskLow},
	}
}

// ObserveSnapshot feeds the spoof-wall detector.
func (m *Monitor) ObserveSnapshot(snap domain.OrderBookSnapshot) int {
	return m.spoof.Observe(snap)
}

// ObserveTrade feeds the wash-trade tape.
func (m *Monitor) ObserveTrade(t domain.Trade) {
	m.wash.AddTrade(t)
}

// Assess builds the assessment as of now.
func (m *Monitor) Assess(now time.Time) domain.ManipulationAssessment {
	active, count := m.spoof.Status(now)
	score := m.wash.Score(now)

	a := domain.ManipulationAssessment{
		SpoofingActive: active,
		SpoofCount:     count,
		WashScore:      score,
		DisableTrading: m.wash.ShouldDisableTrading(),
		TradeSamples:   m.wash.Samples(),
		ComputedAt:     now,
	}
	a.RiskLevel = riskLevel(a, m.washTh)

	m.mu.Lock()
	prev := m.latest.RiskLevel
	m.latest = a
	m.mu.Unlock()

	if prev != a.RiskLevel {
		m.logger.Info("manipulation risk changed",
			slog.String("from", string(prev)),
			slog.String("to", string(a.RiskLevel)),
			slog.Int("spoof_count", count),
			slog.Float64("wash_score", score),
		)
	}
	return a
}

func riskLevel(a domain.ManipulationAssessment, washThreshold float64) domain.RiskLevel {
	switch {
	case a.SpoofingActive || a.DisableTrading:
		return domain.RiskHigh
	case a.SpoofCount > 0 || (a.TradeSamples > 0 && a.WashScore >= washThreshold/2):
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Latest returns the last assessment produced by Assess.
func (m *Monitor) Latest() domain.ManipulationAssessment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Reset returns both detectors to a cold state.
func (m *Monitor) Reset() {
	m.spoof.Reset()
	m.wash.Reset()
	m.mu.Lock()
	m.latest = domain.ManipulationAssessment{RiskLevel: domain.RiskLow}
	m.mu.Unlock()
}
