package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predator/internal/domain"
	"github.com/alanyoungcy/predator/internal/whale"
)

// StateMachine is the view of the whale state machine the API exposes.
type StateMachine interface {
	Snapshot() domain.StateSnapshot
	History() []domain.StateTransition
	RecentDumps() []whale.Dump
	TriggerDefensive(cause string) error
	Resolve(cause string) error
	BeginStrike(cause string) error
	EndStrike(cause string) error
}

// StateHandler serves the system state and its manual controls.
type StateHandler struct {
	machine StateMachine
	logger  *slog.Logger
}

// NewStateHandler creates a StateHandler over machine.
func NewStateHandler(machine StateMachine, logger *slog.Logger) *StateHandler {
	return &StateHandler{machine: machine, logger: logHandler(logger, "state")}
}

// GetState returns the current snapshot, the transition history and the
// dumps still inside the trigger window.
// GET /api/state
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	history := h.machine.History()
	if limit := parseLimit(r, len(history), len(history)); limit < len(history) {
		history = history[len(history)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": h.machine.Snapshot(),
		"history":  history,
		"dumps":    h.machine.RecentDumps(),
	})
}

// TriggerDefensive forces DEFENSIVE.
// POST /api/state/defensive
func (h *StateHandler) TriggerDefensive(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "manual defensive", h.machine.TriggerDefensive)
}

// Resolve clears DEFENSIVE.
// POST /api/state/resolve
func (h *StateHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "manual resolve", h.machine.Resolve)
}

// BeginStrike marks an execution in progress.
// POST /api/state/strike
func (h *StateHandler) BeginStrike(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "strike begin", h.machine.BeginStrike)
}

// EndStrike clears the execution marker.
// POST /api/state/strike/end
func (h *StateHandler) EndStrike(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "strike end", h.machine.EndStrike)
}

func (h *StateHandler) control(w http.ResponseWriter, r *http.Request, fallback string, op func(string) error) {
	cause, err := readCause(r, fallback)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := op(cause); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("state control failed", slog.String("cause", cause), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "state control failed")
		return
	}
	h.logger.Info("state control applied",
		slog.String("path", r.URL.Path),
		slog.String("cause", cause),
		slog.String("remote_addr", r.RemoteAddr),
	)
	writeJSON(w, http.StatusOK, h.machine.Snapshot())
}
