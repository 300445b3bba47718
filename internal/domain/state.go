package domain

import "time"

// SystemState is the whale gating state. Only the state machine mutates it.
type SystemState string

const (
	StatePatient   SystemState = "PATIENT"
	StateHunting   SystemState = "HUNTING"
	StateStrike    SystemState = "STRIKE"
	StateDefensive SystemState = "DEFENSIVE"
)

// StateTransition is one entry of the append-only state history log.
type StateTransition struct {
	Timestamp time.Time   `json:"timestamp"`
	From      SystemState `json:"from"`
	To        SystemState `json:"to"`
	Cause     string      `json:"cause"`
}

// StateSnapshot is a consistent, copy-out view of the state machine.
type StateSnapshot struct {
	State         SystemState `json:"state"`
	EnteredAt     time.Time   `json:"entered_at"`
	HuntExpiresAt time.Time   `json:"hunt_expires_at,omitempty"`
	Cause         string      `json:"cause"`
	// Confidence of the whale intent that opened the current hunt.
	Confidence float64 `json:"confidence"`
	Version    uint64  `json:"version"`
}

// HuntActive reports whether the snapshot authorizes trading at now: the
// state is HUNTING and the hunt window has not elapsed.
func (s StateSnapshot) HuntActive(now time.Time) bool {
	if s.State != StateHunting {
		return false
	}
	return !now.After(s.HuntExpiresAt)
}

// StateChange is the payload published for each transition: the history
// entry plus the snapshot it produced. It decodes as a StateTransition.
type StateChange struct {
	StateTransition
	Snapshot StateSnapshot `json:"snapshot"`
}
