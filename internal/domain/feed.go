package domain

import "time"

// ConnState is the lifecycle state of one event-source connection.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnConnected  ConnState = "connected"
	ConnBackoff    ConnState = "backoff"
	ConnFailed     ConnState = "failed"
	ConnStopped    ConnState = "stopped"
)

// FeedHealth is the observable health of a supervised event source.
type FeedHealth struct {
	Name        string    `json:"name"`
	Provider    string    `json:"provider"`
	State       ConnState `json:"state"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
	Stale       bool      `json:"stale"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Usable reports whether evidence from this feed can still be trusted.
func (h FeedHealth) Usable() bool {
	return h.State != ConnFailed && h.State != ConnStopped
}
