package manipulation

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predator/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func book(at time.Time, wall bool) domain.OrderBookSnapshot {
	snap := domain.OrderBookSnapshot{
		Bids:      []domain.PriceLevel{{Price: 100, Size: 1_000}, {Price: 99.5, Size: 2_000}},
		Asks:      []domain.PriceLevel{{Price: 100.5, Size: 1_000}},
		Timestamp: at,
	}
	if wall {
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: 99, Size: 400_000})
	}
	return snap
}

// flash shows a wall at start for lifetime and removes it one second later.
func flash(d *SpoofDetector, start time.Time, lifetime time.Duration) int {
	d.Observe(book(start, true))
	d.Observe(book(start.Add(lifetime), true))
	return d.Observe(book(start.Add(lifetime+time.Second), false))
}

func TestSpoofDetector_Lifetimes(t *testing.T) {
	tests := []struct {
		name     string
		lifetime time.Duration
		want     int
	}{
		{"too short", 2 * time.Second, 0},
		{"exactly min dwell", 5 * time.Second, 0},
		{"inside window", 6 * time.Second, 1},
		{"exactly detection window", 10 * time.Second, 1},
		{"lingered", 12 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewSpoofDetector(DefaultSpoofConfig(), discardLogger())
			assert.Equal(t, tt.want, flash(d, t0, tt.lifetime))
			assert.Equal(t, 0, d.Walls())
		})
	}
}

func TestSpoofDetector_ActivatesAndDecays(t *testing.T) {
	d := NewSpoofDetector(DefaultSpoofConfig(), discardLogger())

	start := t0
	for i := 0; i < 3; i++ {
		require.Equal(t, 1, flash(d, start, 6*time.Second))
		start = start.Add(20 * time.Second)
	}
	active, count := d.Status(start)
	assert.True(t, active)
	assert.Equal(t, 3, count)

	active, count = d.Status(start.Add(5 * time.Minute))
	assert.False(t, active)
	assert.Equal(t, 0, count)
}

func TestSpoofDetector_CountClearsAfterQuietWindow(t *testing.T) {
	d := NewSpoofDetector(DefaultSpoofConfig(), discardLogger())

	// Each spoof lands within the window of the previous one, so the first
	// still counts eight minutes later.
	for _, at := range []time.Duration{0, 4 * time.Minute, 8 * time.Minute} {
		require.Equal(t, 1, flash(d, t0.Add(at), 6*time.Second))
	}
	last := t0.Add(8*time.Minute + 7*time.Second)
	active, count := d.Status(last.Add(time.Second))
	assert.True(t, active)
	assert.Equal(t, 3, count)

	active, count = d.Status(last.Add(4*time.Minute + 59*time.Second))
	assert.True(t, active)
	assert.Equal(t, 3, count)

	active, count = d.Status(last.Add(5 * time.Minute))
	assert.False(t, active)
	assert.Equal(t, 0, count)

	// A spoof after a quiet window starts a fresh count.
	require.Equal(t, 1, flash(d, last.Add(20*time.Minute), 6*time.Second))
	_, count = d.Status(last.Add(20*time.Minute + 8*time.Second))
	assert.Equal(t, 1, count)
}

func TestSpoofDetector_TwoSpoofsNotActive(t *testing.T) {
	d := NewSpoofDetector(DefaultSpoofConfig(), discardLogger())
	flash(d, t0, 6*time.Second)
	flash(d, t0.Add(time.Minute), 6*time.Second)

	active, count := d.Status(t0.Add(2 * time.Minute))
	assert.False(t, active)
	assert.Equal(t, 2, count)
}

func TestSpoofDetector_StaleWallPurged(t *testing.T) {
	d := NewSpoofDetector(DefaultSpoofConfig(), discardLogger())
	d.Observe(book(t0, true))
	d.Observe(book(t0.Add(6*time.Second), true))
	assert.Equal(t, 1, d.Walls())

	// Feed gap: the wall is too old to judge and must not count.
	assert.Equal(t, 0, d.Observe(book(t0.Add(90*time.Second), false)))
	assert.Equal(t, 0, d.Walls())
}

func TestSpoofDetector_IgnoresMalformed(t *testing.T) {
	d := NewSpoofDetector(DefaultSpoofConfig(), discardLogger())
	assert.Equal(t, 0, d.Observe(domain.OrderBookSnapshot{}))
	assert.Equal(t, 0, d.Walls())
}

func washTape(n int, gap time.Duration, size func(i int) float64, price func(i int) float64) []domain.Trade {
	out := make([]domain.Trade, n)
	for i := range out {
		out[i] = domain.Trade{
			Price:     price(i),
			Size:      size(i),
			Side:      "buy",
			Timestamp: t0.Add(time.Duration(i) * gap),
		}
	}
	return out
}

func TestWashScore_Components(t *testing.T) {
	cfg := DefaultWashConfig()

	suspicious := washTape(20, 50*time.Millisecond,
		func(int) float64 { return 100 },
		func(int) float64 { return 100 })
	// round 1.0, rapid 1.0, top-20% share 0.2, flat 1.0
	assert.InDelta(t, 84.0, WashScore(suspicious, cfg), 1e-9)

	organic := washTape(20, 2*time.Second,
		func(i int) float64 { return 1.2345 + float64(i)*0.37 },
		func(i int) float64 { return 100.13 + float64(i)*0.07 })
	assert.Less(t, WashScore(organic, cfg), 10.0)
}

func TestWashScore_InsufficientSamples(t *testing.T) {
	cfg := DefaultWashConfig()
	tape := washTape(9, time.Millisecond,
		func(int) float64 { return 100 },
		func(int) float64 { return 100 })
	assert.Equal(t, 0.0, WashScore(tape, cfg))
	assert.Equal(t, 0.0, WashScore(nil, cfg))
}

func TestWashDetector_ThrottledRecompute(t *testing.T) {
	d := NewWashDetector(DefaultWashConfig(), discardLogger())
	assert.Equal(t, 0.0, d.Score(t0))

	for _, tr := range washTape(20, 50*time.Millisecond,
		func(int) float64 { return 100 },
		func(int) float64 { return 100 }) {
		d.AddTrade(tr)
	}
	assert.Equal(t, 0.0, d.Score(t0.Add(10*time.Second)), "cached until the cadence elapses")
	assert.False(t, d.ShouldDisableTrading())

	assert.InDelta(t, 84.0, d.Score(t0.Add(30*time.Second)), 1e-9)
	assert.True(t, d.ShouldDisableTrading())
}

func TestWashDetector_WindowPrunes(t *testing.T) {
	d := NewWashDetector(DefaultWashConfig(), discardLogger())
	d.AddTrade(domain.Trade{Price: 100, Size: 1, Timestamp: t0})
	d.AddTrade(domain.Trade{Price: 100, Size: 1, Timestamp: t0.Add(6 * time.Minute)})
	assert.Equal(t, 1, d.Samples())

	d.AddTrade(domain.Trade{Price: 0, Size: 1, Timestamp: t0})
	assert.Equal(t, 1, d.Samples(), "invalid trade dropped")
}

func TestWashDetector_ScoreAtThresholdKeepsTrading(t *testing.T) {
	tape := washTape(20, 50*time.Millisecond,
		func(int) float64 { return 100 },
		func(int) float64 { return 100 })
	score := WashScore(tape, DefaultWashConfig())
	require.InDelta(t, 84.0, score, 1e-9)

	cfg := DefaultWashConfig()
	cfg.Threshold = score
	d := NewWashDetector(cfg, discardLogger())
	for _, tr := range tape {
		d.AddTrade(tr)
	}
	assert.Equal(t, score, d.Score(t0.Add(30*time.Second)))
	assert.False(t, d.ShouldDisableTrading(), "a score equal to the threshold does not disable")

	cfg.Threshold = score - 0.5
	below := NewWashDetector(cfg, discardLogger())
	for _, tr := range tape {
		below.AddTrade(tr)
	}
	below.Score(t0.Add(30 * time.Second))
	assert.True(t, below.ShouldDisableTrading())
}

func TestWashDetector_ZeroThresholdDisablesAnyTape(t *testing.T) {
	cfg := DefaultWashConfig()
	cfg.Threshold = 0
	d := NewWashDetector(cfg, discardLogger())
	assert.False(t, d.ShouldDisableTrading(), "empty tape never disables")

	d.AddTrade(domain.Trade{Price: 101.37, Size: 0.71, Timestamp: t0})
	d.Score(t0)
	assert.True(t, d.ShouldDisableTrading())
}

func TestMonitor_RiskLevels(t *testing.T) {
	m := NewMonitor(DefaultSpoofConfig(), DefaultWashConfig(), discardLogger())
	a := m.Assess(t0)
	assert.Equal(t, domain.RiskLow, a.RiskLevel)
	assert.False(t, a.DisableTrading)

	m.ObserveSnapshot(book(t0, true))
	m.ObserveSnapshot(book(t0.Add(6*time.Second), true))
	m.ObserveSnapshot(book(t0.Add(7*time.Second), false))
	a = m.Assess(t0.Add(8 * time.Second))
	assert.Equal(t, domain.RiskMedium, a.RiskLevel)
	assert.Equal(t, 1, a.SpoofCount)

	for _, tr := range washTape(20, 50*time.Millisecond,
		func(int) float64 { return 100 },
		func(int) float64 { return 100 }) {
		m.ObserveTrade(tr)
	}
	a = m.Assess(t0.Add(40 * time.Second))
	assert.True(t, a.DisableTrading)
	assert.Equal(t, domain.RiskHigh, a.RiskLevel)
	assert.Equal(t, a, m.Latest())

	m.Reset()
	assert.Equal(t, domain.RiskLow, m.Latest().RiskLevel)
}
