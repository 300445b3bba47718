// Package notify delivers operator alerts (state transitions, whale intents,
// feed failures) to Telegram and Discord. Alerts can be filtered by event
// type and are rate limited so a flapping feed cannot flood a channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
)

// Alert event types accepted by Notify.
const (
	EventStateTransition = "state_transition"
	EventWhaleIntent     = "whale_intent"
	EventFeedFailed      = "feed_failed"
	EventFeedRecovered   = "feed_recovered"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify forwards
// only allowed event types; NotifyAll bypasses the filter but not the limiter.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NotifierOption customises a Notifier.
type NotifierOption func(*Notifier)

// WithRateLimit allows at most perMinute alerts per minute with the given
// burst. Alerts over the limit are dropped and logged.
func WithRateLimit(perMinute float64, burst int) NotifierOption {
	return func(n *Notifier) {
		if perMinute > 0 && burst > 0 {
			n.limiter = rate.NewLimiter(rate.Limit(perMinute/60), burst)
		}
	}
}

// NewNotifier creates a Notifier for senders. If events is empty, all event
// types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...NotifierOption) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	n := &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify sends a notification if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender. One sender failing does not stop delivery
// to the rest; the failures are joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if n.limiter != nil && !n.limiter.Allow() {
		n.logger.WarnContext(ctx, "alert rate limited", slog.String("title", title))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
