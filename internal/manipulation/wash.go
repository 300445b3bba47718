package manipulation

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/predator/internal/domain"
)

// Wash sub-score weights.
const (
	weightRound         = 0.4
	weightRapid         = 0.3
	weightConcentration = 0.2
	weightFlat          = 0.1
)

// WashConfig configures the wash-trade detector.
type WashConfig struct {
	Window         time.Duration // rolling trade-tape window
	RapidThreshold time.Duration // pairs closer than this count as rapid
	FlatEpsilon    float64       // relative price move treated as zero
	RoundQtyUnit   float64       // sizes that are whole multiples of this are round
	RoundValueUnit float64       // notionals that are whole multiples of this are round
	TopShare       float64       // fraction of largest trades for concentration
	Threshold      float64       // score above which trading is disabled
	MinTrades      int           // below this the score is 0
	RecomputeEvery time.Duration
	MaxTrades      int // hard cap on the window
}

// DefaultWashConfig returns the stock wash-trade parameters.
func DefaultWashConfig() WashConfig {
	return WashConfig{
		Window:         5 * time.Minute,
		RapidThreshold: 100 * time.Millisecond,
		FlatEpsilon:    1e-5,
		RoundQtyUnit:   100,
		RoundValueUnit: 1_000,
		TopShare:       0.2,
		Threshold:      75,
		MinTrades:      10,
		RecomputeEvery: 30 * time.Second,
		MaxTrades:      20_000,
	}
}

// WashScore computes the 0-100 wash score of a trade window. Trades must be
// ordered by time. Fewer than minTrades trades score 0.
func WashScore(trades []domain.Trade, cfg WashConfig) float64 {
	n := len(trades)
	if n == 0 || n < cfg.MinTrades {
		return 0
	}
	score := weightRound*roundFraction(trades, cfg) +
		weightRapid*rapidFraction(trades, cfg.RapidThreshold) +
		weightConcentration*concentration(trades, cfg.TopShare) +
		weightFlat*flatFraction(trades, cfg.FlatEpsilon)
	return math.Max(0, math.Min(100, score*100))
}

func roundFraction(trades []domain.Trade, cfg WashConfig) float64 {
	var round int
	for _, t := range trades {
		if multipleOf(t.Size, cfg.RoundQtyUnit) || multipleOf(t.Price*t.Size, cfg.RoundValueUnit) {
			round++
		}
	}
	return float64(round) / float64(len(trades))
}

func multipleOf(v, unit float64) bool {
	if unit <= 0 || v <= 0 {
		return false
	}
	q := v / unit
	return math.Abs(q-math.Round(q)) < 1e-9*math.Max(1, q)
}

func rapidFraction(trades []domain.Trade, threshold time.Duration) float64 {
	if len(trades) < 2 {
		return 0
	}
	var rapid int
	for i := 1; i < len(trades); i++ {
		if trades[i].Timestamp.Sub(trades[i-1].Timestamp) < threshold {
			rapid++
		}
	}
	return float64(rapid) / float64(len(trades)-1)
}

// concentration is the volume share of the largest topShare of trades.
func concentration(trades []domain.Trade, topShare float64) float64 {
	sizes := make([]float64, len(trades))
	var total float64
	for i, t := range trades {
		sizes[i] = t.Size
		total += t.Size
	}
	if total <= 0 {
		return 0
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sizes)))
	k := int(math.Ceil(float64(len(sizes)) * topShare))
	if k < 1 {
		k = 1
	}
	var top float64
	for _, s := range sizes[:k] {
		top += s
	}
	return top / total
}

func flatFraction(trades []domain.Trade, eps float64) float64 {
	if len(trades) < 2 {
		return 0
	}
	var flat int
	for i := 1; i < len(trades); i++ {
		prev := trades[i-1].Price
		if math.Abs(trades[i].Price-prev)/prev < eps {
			flat++
		}
	}
	return float64(flat) / float64(len(trades)-1)
}

// WashDetector holds the rolling trade tape and a throttled score.
type WashDetector struct {
	cfg        WashConfig
	mu         sync.Mutex
	trades     []domain.Trade
	score      float64
	computedAt time.Time
	logger     *slog.Logger
}

// NewWashDetector creates a WashDetector with an empty tape.
func NewWashDetector(cfg WashConfig, logger *slog.Logger) *WashDetector {
	if cfg.MaxTrades <= 0 {
		cfg.MaxTrades = DefaultWashConfig().MaxTrades
	}
	return &WashDetector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "wash_detector")),
	}
}

// AddTrade appends a print to the tape. Invalid prints are dropped.
func (d *WashDetector) AddTrade(t domain.Trade) {
	if !t.Valid() {
		d.logger.Debug("trade ignored", slog.Float64("price", t.Price), slog.Float64("size", t.Size))
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	// Keep the tape ordered; late prints are inserted in place.
	i := len(d.trades)
	for i > 0 && d.trades[i-1].Timestamp.After(t.Timestamp) {
		i--
	}
	d.trades = append(d.trades, domain.Trade{})
	copy(d.trades[i+1:], d.trades[i:])
	d.trades[i] = t

	if over := len(d.trades) - d.cfg.MaxTrades; over > 0 {
		d.trades = d.trades[over:]
	}
	d.pruneLocked(d.trades[len(d.trades)-1].Timestamp)
}

func (d *WashDetector) pruneLocked(now time.Time) {
	cutoff := now.Add(-d.cfg.Window)
	i := 0
	for i < len(d.trades) && d.trades[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		d.trades = append(d.trades[:0], d.trades[i:]...)
	}
}

// Score returns the wash score, recomputing it only when RecomputeEvery has
// elapsed since the last computation.
func (d *WashDetector) Score(now time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.computedAt.IsZero() && now.Sub(d.computedAt) < d.cfg.RecomputeEvery {
		return d.score
	}
	d.pruneLocked(now)
	d.score = WashScore(d.trades, d.cfg)
	d.computedAt = now
	return d.score
}

// ShouldDisableTrading reports whether the last computed score exceeds the
// threshold over a non-empty window. A threshold of zero or below disables
// trading on any tape.
func (d *WashDetector) ShouldDisableTrading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.trades) == 0 {
		return false
	}
	if d.cfg.Threshold <= 0 {
		return true
	}
	return d.score > d.cfg.Threshold
}

// Samples returns the number of trades in the window.
func (d *WashDetector) Samples() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.trades)
}

// Reset empties the tape and clears the cached score.
func (d *WashDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trades = nil
	d.score = 0
	d.computedAt = time.Time{}
}
