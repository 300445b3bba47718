package engine

import (
	"sync"
	"time"

	"github.com/alanyoungcy/predator/internal/domain"
)

// maxVolumeTrades bounds the tape kept for the volume profile.
const maxVolumeTrades = 200_000

// volumeTracker keeps running sums over a sliding trade window and yields the
// VWAP and quote volume the liquidity scorer expects.
type volumeTracker struct {
	window time.Duration

	mu     sync.Mutex
	trades []domain.Trade
	head   int
	sumPV  float64 // price * size, also the quote volume
	sumV   float64
}

func newVolumeTracker(window time.Duration) *volumeTracker {
	return &volumeTracker{window: window}
}

// Add records t and returns the profile of the window ending at t.
func (v *volumeTracker) Add(t domain.Trade) domain.VolumeProfile {
	v.mu.Lock()
	defer v.mu.Unlock()

	if t.Valid() {
		v.trades = append(v.trades, t)
		v.sumPV += t.Price * t.Size
		v.sumV += t.Size
	}
	cutoff := t.Timestamp.Add(-v.window)
	for v.head < len(v.trades) &&
		(v.trades[v.head].Timestamp.Before(cutoff) || len(v.trades)-v.head > maxVolumeTrades) {
		old := v.trades[v.head]
		v.sumPV -= old.Price * old.Size
		v.sumV -= old.Size
		v.head++
	}
	// Compact once the dead prefix dominates.
	if v.head > 1024 && v.head*2 > len(v.trades) {
		v.trades = append(v.trades[:0], v.trades[v.head:]...)
		v.head = 0
	}
	if v.head == len(v.trades) {
		v.sumPV, v.sumV = 0, 0
	}
	return v.profileLocked()
}

func (v *volumeTracker) profileLocked() domain.VolumeProfile {
	if v.sumV <= 0 {
		return domain.VolumeProfile{}
	}
	return domain.VolumeProfile{VWAP: v.sumPV / v.sumV, Volume: v.sumPV}
}

// Reset empties the window.
func (v *volumeTracker) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.trades = nil
	v.head = 0
	v.sumPV, v.sumV = 0, 0
}
