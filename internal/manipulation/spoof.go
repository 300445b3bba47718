// Package manipulation detects order-book spoofing and wash trading and
// folds both into a ManipulationAssessment.
package manipulation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/predator/internal/domain"
)

// SpoofConfig configures the spoof-wall detector.
type SpoofConfig struct {
	WallSize        float64       // level quantity above which a level is a wall
	MinDwell        time.Duration // a wall must live longer than this
	DetectionWindow time.Duration // ...and vanish no later than this
	ActiveCount     int           // spoofs that flag spoofing
	RollingWindow   time.Duration // quiet period after the last spoof that clears the count
	StaleAfter      time.Duration // walls unseen this long are dropped without counting
}

// DefaultSpoofConfig returns the stock spoof-wall parameters.
func DefaultSpoofConfig() SpoofConfig {
	return SpoofConfig{
		WallSize:        300_000,
		MinDwell:        5 * time.Second,
		DetectionWindow: 10 * time.Second,
		ActiveCount:     3,
		RollingWindow:   5 * time.Minute,
		StaleAfter:      60 * time.Second,
	}
}

type wallKey struct {
	price float64
	side  string
}

type wall struct {
	firstSeen time.Time
	lastSeen  time.Time
	size      float64
}

// SpoofDetector tracks large resting levels between snapshots. A wall that
// lived longer than MinDwell and vanished within DetectionWindow is a spoof.
type SpoofDetector struct {
	cfg       SpoofConfig
	mu        sync.Mutex
	walls     map[wallKey]*wall
	spoofs    int // since the count last cleared
	lastSpoof time.Time
	logger    *slog.Logger
}

// NewSpoofDetector creates a SpoofDetector with no tracked walls.
func NewSpoofDetector(cfg SpoofConfig, logger *slog.Logger) *SpoofDetector {
	if cfg.ActiveCount <= 0 {
		cfg.ActiveCount = 1
	}
	return &SpoofDetector{
		cfg:    cfg,
		walls:  make(map[wallKey]*wall),
		logger: logger.With(slog.String("component", "spoof_detector")),
	}
}

// Observe updates wall tracking from a snapshot and returns the number of
// spoofs detected by it. Malformed snapshots are ignored.
func (d *SpoofDetector) Observe(snap domain.OrderBookSnapshot) int {
	if err := snap.Validate(); err != nil {
		d.logger.Debug("snapshot ignored", slog.String("error", err.Error()))
		return 0
	}
	now := snap.Timestamp

	d.mu.Lock()
	defer d.mu.Unlock()

	d.purgeLocked(now)

	present := make(map[wallKey]struct{})
	d.track(present, "bid", snap.Bids, now)
	d.track(present, "ask", snap.Asks, now)

	detected := 0
	for k, w := range d.walls {
		if _, ok := present[k]; ok {
			continue
		}
		lifetime := w.lastSeen.Sub(w.firstSeen)
		if lifetime > d.cfg.MinDwell && lifetime <= d.cfg.DetectionWindow {
			d.decayLocked(now)
			d.spoofs++
			d.lastSpoof = now
			detected++
			d.logger.Info("spoof wall vanished",
				slog.String("side", k.side),
				slog.Float64("price", k.price),
				slog.Float64("size", w.size),
				slog.Duration("lifetime", lifetime),
			)
		}
		delete(d.walls, k)
	}
	d.decayLocked(now)
	return detected
}

func (d *SpoofDetector) track(present map[wallKey]struct{}, side string, levels []domain.PriceLevel, now time.Time) {
	for _, l := range levels {
		if l.Size <= d.cfg.WallSize {
			continue
		}
		k := wallKey{price: l.Price, side: side}
		present[k] = struct{}{}
		if w, ok := d.walls[k]; ok {
			w.lastSeen = now
			w.size = l.Size
			continue
		}
		d.walls[k] = &wall{firstSeen: now, lastSeen: now, size: l.Size}
	}
}

// purgeLocked drops walls whose last sighting is too old to judge.
func (d *SpoofDetector) purgeLocked(now time.Time) {
	for k, w := range d.walls {
		if now.Sub(w.lastSeen) > d.cfg.StaleAfter {
			delete(d.walls, k)
		}
	}
}

// decayLocked clears the spoof count once RollingWindow has passed without a
// new spoof.
func (d *SpoofDetector) decayLocked(now time.Time) {
	if d.spoofs > 0 && now.Sub(d.lastSpoof) >= d.cfg.RollingWindow {
		d.spoofs = 0
		d.lastSpoof = time.Time{}
	}
}

// Status reports the spoof count and whether it reaches the active threshold.
// The count clears once RollingWindow passes without a new spoof.
func (d *SpoofDetector) Status(now time.Time) (active bool, count int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decayLocked(now)
	count = d.spoofs
	return count >= d.cfg.ActiveCount, count
}

// Walls returns the number of walls currently tracked.
func (d *SpoofDetector) Walls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.walls)
}

// Reset forgets all walls and detections.
func (d *SpoofDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.walls = make(map[wallKey]*wall)
	d.spoofs = 0
	d.lastSpoof = time.Time{}
}
