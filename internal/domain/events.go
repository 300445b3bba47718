package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bus topics. Every payload is a JSON-encoded Event.
const (
	TopicDecision     = "ch:decision"
	TopicState        = "ch:state"
	TopicWhale        = "ch:whale"
	TopicLiquidity    = "ch:liquidity"
	TopicManipulation = "ch:manipulation"
	TopicFeed         = "ch:feed"
)

// Journal streams mirror the topics whose history must survive a subscriber
// restart.
const (
	StreamDecisions   = "stream:decisions"
	StreamTransitions = "stream:transitions"
)

// Event types carried in Event.Type.
const (
	EventTradeDecision   = "trade_decision"
	EventStateTransition = "state_transition"
	EventWhaleIntent     = "whale_intent"
	EventLiquidity       = "liquidity_score"
	EventManipulation    = "manipulation_assessment"
	EventFeedHealth      = "feed_health"
)

// Event is the typed envelope producers publish and subscribers decode.
type Event struct {
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event envelope.
func NewEvent(eventType string, at time.Time, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("domain: marshal %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Time: at.UTC(), Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("domain: decode %s payload: %w", e.Type, err)
	}
	return nil
}
