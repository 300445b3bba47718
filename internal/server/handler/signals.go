package handler

import (
	"net/http"

	"github.com/alanyoungcy/predator/internal/domain"
	"github.com/alanyoungcy/predator/internal/whale"
)

// SignalView is the read side of the signal engine.
type SignalView interface {
	Liquidity() domain.LiquidityScore
	Manipulation() domain.ManipulationAssessment
	RecentDecisions(limit int) []domain.TradeDecision
	DetectorStats() whale.DetectorStats
	MidPrice() float64
	Dropped() uint64
}

// SignalHandler serves the latest liquidity, manipulation and decision views.
type SignalHandler struct {
	engine SignalView
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(engine SignalView) *SignalHandler {
	return &SignalHandler{engine: engine}
}

// GetLiquidity returns the latest liquidity score.
// GET /api/liquidity
func (h *SignalHandler) GetLiquidity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Liquidity())
}

// GetManipulation returns the latest manipulation assessment.
// GET /api/manipulation
func (h *SignalHandler) GetManipulation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Manipulation())
}

// RecentDecisions returns in-memory decisions, newest first.
// GET /api/decisions/recent?limit=N
func (h *SignalHandler) RecentDecisions(w http.ResponseWriter, r *http.Request) {
	decisions := h.engine.RecentDecisions(parseLimit(r, 50, 500))
	if decisions == nil {
		decisions = []domain.TradeDecision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

// GetWhale returns whale detector counters.
// GET /api/whale
func (h *SignalHandler) GetWhale(w http.ResponseWriter, r *http.Request) {
	s := h.engine.DetectorStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"seen":           s.Seen,
		"filtered":       s.Filtered,
		"duplicates":     s.Duplicates,
		"malformed":      s.Malformed,
		"emitted":        s.Emitted,
		"mid_price":      h.engine.MidPrice(),
		"outbox_dropped": h.engine.Dropped(),
	})
}
