package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predator/internal/domain"
	"github.com/alanyoungcy/predator/internal/notify"
)

// AlertService turns bus events into operator alerts: every state
// transition, HIGH and CRITICAL whale intents, and feed failures and
// recoveries.
type AlertService struct {
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewAlertService creates an AlertService.
func NewAlertService(bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *AlertService {
	return &AlertService{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alert_service")),
	}
}

// Run subscribes to the state, whale and feed topics until ctx is cancelled.
func (s *AlertService) Run(ctx context.Context) error {
	ch, err := s.bus.Subscribe(ctx, "ch:*")
	if err != nil {
		return fmt.Errorf("alert_service: subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				continue
			}
			if err := s.Handle(ctx, ev); err != nil {
				s.logger.WarnContext(ctx, "alert failed",
					slog.String("type", ev.Type),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Handle sends the alert for one event, if it warrants one.
func (s *AlertService) Handle(ctx context.Context, ev domain.Event) error {
	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch ev.Type {
	case domain.EventStateTransition:
		var c domain.StateChange
		if err := ev.Decode(&c); err != nil {
			return err
		}
		title, msg := notify.TransitionAlert(c.StateTransition, c.Snapshot)
		return s.notifier.Notify(sendCtx, notify.EventStateTransition, title, msg)
	case domain.EventWhaleIntent:
		var w domain.WhaleIntentEvent
		if err := ev.Decode(&w); err != nil {
			return err
		}
		if w.ThreatLevel != domain.ThreatHigh && w.ThreatLevel != domain.ThreatCritical {
			return nil
		}
		title, msg := notify.WhaleAlert(w)
		return s.notifier.Notify(sendCtx, notify.EventWhaleIntent, title, msg)
	case domain.EventFeedHealth:
		var h domain.FeedHealth
		if err := ev.Decode(&h); err != nil {
			return err
		}
		event, title, msg, ok := notify.FeedAlert(h)
		if !ok {
			return nil
		}
		return s.notifier.Notify(sendCtx, event, title, msg)
	}
	return nil
}
