package handler

import (
	"net/http"

	"github.com/alanyoungcy/predator/internal/domain"
)

// FeedSource reports the health of one supervised event source.
type FeedSource interface {
	Health() domain.FeedHealth
}

// FeedHandler lists event-source health.
type FeedHandler struct {
	feeds []FeedSource
}

// NewFeedHandler creates a FeedHandler over feeds.
func NewFeedHandler(feeds ...FeedSource) *FeedHandler {
	return &FeedHandler{feeds: feeds}
}

// ListFeeds returns every feed's health. A feed that is failed or stopped
// flips "degraded" so dashboards need not inspect each entry.
// GET /api/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	out := make([]domain.FeedHealth, 0, len(h.feeds))
	degraded := false
	for _, f := range h.feeds {
		fh := f.Health()
		if !fh.Usable() || fh.Stale {
			degraded = true
		}
		out = append(out, fh)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feeds":    out,
		"degraded": degraded,
	})
}
