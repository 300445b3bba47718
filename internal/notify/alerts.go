package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/predator/internal/domain"
)

// TransitionAlert renders a state transition. DEFENSIVE entries get a louder
// title because they need a manual resolve.
func TransitionAlert(t domain.StateTransition, snap domain.StateSnapshot) (title, message string) {
	title = fmt.Sprintf("State %s -> %s", t.From, t.To)
	if t.To == domain.StateDefensive {
		title = "DEFENSIVE: " + title
	}
	var b strings.Builder
	fmt.Fprintf(&b, "cause: %s\n", t.Cause)
	fmt.Fprintf(&b, "at: %s", t.Timestamp.UTC().Format(time.RFC3339))
	if t.To == domain.StateHunting && !snap.HuntExpiresAt.IsZero() {
		fmt.Fprintf(&b, "\nhunt expires: %s", snap.HuntExpiresAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "\nconfidence: %.2f", snap.Confidence)
	}
	return title, b.String()
}

// WhaleAlert renders a whale intent.
func WhaleAlert(ev domain.WhaleIntentEvent) (title, message string) {
	title = fmt.Sprintf("Whale %s (%s)", ev.IntentType, ev.ThreatLevel)
	var b strings.Builder
	fmt.Fprintf(&b, "whale: %s\n", ev.WhaleAddress)
	fmt.Fprintf(&b, "tx: %s\n", ev.TxHash)
	fmt.Fprintf(&b, "amount: %.0f (~$%.0f)", ev.TokenAmount, ev.EstimatedValue)
	if ev.TargetExchange != "" {
		fmt.Fprintf(&b, "\nexchange: %s", ev.TargetExchange)
	}
	if ev.Pending {
		b.WriteString("\nmempool: yes")
	}
	return title, b.String()
}

// FeedAlert renders a feed health change and the event type it belongs to.
// ok is false for health changes that are not worth an alert.
func FeedAlert(h domain.FeedHealth) (event, title, message string, ok bool) {
	switch h.State {
	case domain.ConnFailed:
		event, title = EventFeedFailed, fmt.Sprintf("Feed %s failed", h.Name)
	case domain.ConnConnected:
		event, title = EventFeedRecovered, fmt.Sprintf("Feed %s connected via %s", h.Name, h.Provider)
	default:
		return "", "", "", false
	}
	var b strings.Builder
	fmt.Fprintf(&b, "attempts: %d", h.Attempts)
	if h.LastError != "" {
		fmt.Fprintf(&b, "\nlast error: %s", h.LastError)
	}
	if !h.LastEventAt.IsZero() {
		fmt.Fprintf(&b, "\nlast event: %s", h.LastEventAt.UTC().Format(time.RFC3339))
	}
	return event, title, b.String(), true
}
