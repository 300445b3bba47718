package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predator/internal/domain"
)

// JournalHandler serves the persisted decision and transition journal.
type JournalHandler struct {
	store  domain.JournalStore
	logger *slog.Logger
}

// NewJournalHandler creates a JournalHandler over store.
func NewJournalHandler(store domain.JournalStore, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{store: store, logger: logHandler(logger, "journal")}
}

// ListDecisions returns journaled decisions, newest first.
// GET /api/journal/decisions?limit=&offset=&since=&until=
func (h *JournalHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.store.ListDecisions(r.Context(), opts)
	if err != nil {
		h.logger.Error("list decisions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list decisions")
		return
	}
	if out == nil {
		out = []domain.TradeDecision{}
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTransitions returns journaled state transitions, newest first.
// GET /api/journal/transitions?limit=&offset=&since=&until=
func (h *JournalHandler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.store.ListTransitions(r.Context(), opts)
	if err != nil {
		h.logger.Error("list transitions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list transitions")
		return
	}
	if out == nil {
		out = []domain.StateTransition{}
	}
	writeJSON(w, http.StatusOK, out)
}
