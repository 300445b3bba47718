package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predator/internal/domain"
)

// FeedHealthPublisher publishes feed health changes on the feed topic. Its
// Hook method is installed as a supervisor health hook.
type FeedHealthPublisher struct {
	bus     domain.SignalBus
	timeout time.Duration
	logger  *slog.Logger
}

// NewFeedHealthPublisher creates a FeedHealthPublisher.
func NewFeedHealthPublisher(bus domain.SignalBus, logger *slog.Logger) *FeedHealthPublisher {
	return &FeedHealthPublisher{
		bus:     bus,
		timeout: 2 * time.Second,
		logger:  logger.With(slog.String("component", "feed_health")),
	}
}

// Hook publishes h. Failures are logged; the supervisor never waits longer
// than the publish timeout.
func (p *FeedHealthPublisher) Hook(h domain.FeedHealth) {
	ev, err := domain.NewEvent(domain.EventFeedHealth, h.UpdatedAt, h)
	if err != nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.bus.Publish(ctx, domain.TopicFeed, raw); err != nil {
		p.logger.Warn("publish feed health failed",
			slog.String("feed", h.Name),
			slog.String("error", err.Error()),
		)
	}
}
