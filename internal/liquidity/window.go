package liquidity

// Window is a fixed-capacity circular buffer of composite scores. The oldest
// sample is overwritten once the window is full.
type Window struct {
	values []float64
	next   int
	full   bool
}

// NewWindow creates a Window holding at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{values: make([]float64, capacity)}
}

// Add records v, evicting the oldest sample when full.
func (w *Window) Add(v float64) {
	w.values[w.next] = v
	w.next = (w.next + 1) % len(w.values)
	if w.next == 0 {
		w.full = true
	}
}

// Len returns the number of samples held.
func (w *Window) Len() int {
	if w.full {
		return len(w.values)
	}
	return w.next
}

// Values returns a copy of the held samples in no particular order.
func (w *Window) Values() []float64 {
	out := make([]float64, w.Len())
	copy(out, w.values[:w.Len()])
	return out
}
