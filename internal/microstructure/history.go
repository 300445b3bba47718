package microstructure

import "sync"

// PriceHistory is a fixed-length ring of recent mid prices. Momentum is the
// percentage change from the oldest to the newest sample in the ring.
type PriceHistory struct {
	mu     sync.RWMutex
	prices []float64
	next   int
	full   bool
}

// NewPriceHistory creates a PriceHistory holding at most size samples.
func NewPriceHistory(size int) *PriceHistory {
	if size < 2 {
		size = 2
	}
	return &PriceHistory{prices: make([]float64, size)}
}

// Track records a price. Non-positive prices are ignored.
func (h *PriceHistory) Track(price float64) {
	if !(price > 0) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.prices[h.next] = price
	h.next = (h.next + 1) % len(h.prices)
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of recorded samples.
func (h *PriceHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.prices)
	}
	return h.next
}

// Momentum returns the percent change across the window. With fewer than two
// samples it returns 0.
func (h *PriceHistory) Momentum() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var oldest, newest float64
	switch {
	case h.full:
		oldest = h.prices[h.next]
		newest = h.prices[(h.next-1+len(h.prices))%len(h.prices)]
	case h.next >= 2:
		oldest = h.prices[0]
		newest = h.prices[h.next-1]
	default:
		return 0
	}
	return momentum(oldest, newest)
}

// Reset drops all samples.
func (h *PriceHistory) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.prices {
		h.prices[i] = 0
	}
	h.next = 0
	h.full = false
}

func momentum(oldest, newest float64) float64 {
	if oldest <= 0 {
		return 0
	}
	return (newest - oldest) / oldest * 100
}
