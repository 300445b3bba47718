package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predator/internal/domain"
)

// Exporter is the subset of the blob exporter the journal feeds.
type Exporter interface {
	Add(kind string, rec any)
}

// Export kinds, matching the object-store layout.
const (
	exportDecisions   = "decisions"
	exportTransitions = "transitions"
	exportWhale       = "whale"
)

const journalBatch = 100

// JournalService tails the durable decision and transition streams into the
// journal store and the exporter. Either sink may be nil. Stream reads start
// from the beginning; journal writes are idempotent, so a restart replays
// without duplicating rows.
type JournalService struct {
	bus      domain.SignalBus
	store    domain.JournalStore
	exporter Exporter
	poll     time.Duration
	logger   *slog.Logger
}

// NewJournalService creates a JournalService polling streams every poll.
func NewJournalService(bus domain.SignalBus, store domain.JournalStore, exporter Exporter, poll time.Duration, logger *slog.Logger) *JournalService {
	if poll <= 0 {
		poll = time.Second
	}
	return &JournalService{
		bus:      bus,
		store:    store,
		exporter: exporter,
		poll:     poll,
		logger:   logger.With(slog.String("component", "journal_service")),
	}
}

// Run tails both streams and the whale topic until ctx is cancelled.
func (s *JournalService) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.tail(gctx, domain.StreamDecisions, s.handleDecision) })
	g.Go(func() error { return s.tail(gctx, domain.StreamTransitions, s.handleTransition) })
	if s.exporter != nil {
		g.Go(func() error { return s.whales(gctx) })
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *JournalService) tail(ctx context.Context, stream string, handle func(context.Context, domain.Event) error) error {
	lastID := "0"
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		n, next, err := s.drain(ctx, stream, lastID, handle)
		if err != nil {
			s.logger.WarnContext(ctx, "stream read failed",
				slog.String("stream", stream),
				slog.String("error", err.Error()),
			)
		}
		lastID = next
		if n == journalBatch {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain reads one batch after lastID, handles it and returns the new cursor.
// A message that fails to decode or store is logged and skipped.
func (s *JournalService) drain(ctx context.Context, stream, lastID string, handle func(context.Context, domain.Event) error) (int, string, error) {
	msgs, err := s.bus.StreamRead(ctx, stream, lastID, journalBatch)
	if err != nil {
		return 0, lastID, err
	}
	for _, m := range msgs {
		var ev domain.Event
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			s.logger.WarnContext(ctx, "undecodable stream entry", slog.String("stream", stream), slog.String("id", m.ID))
		} else if err := handle(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "journal write failed",
				slog.String("stream", stream),
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
		}
		lastID = m.ID
	}
	return len(msgs), lastID, nil
}

func (s *JournalService) handleDecision(ctx context.Context, ev domain.Event) error {
	var d domain.TradeDecision
	if err := ev.Decode(&d); err != nil {
		return err
	}
	if s.exporter != nil {
		s.exporter.Add(exportDecisions, d)
	}
	if s.store == nil {
		return nil
	}
	if err := s.store.RecordDecision(ctx, d); err != nil {
		return fmt.Errorf("journal_service: %w", err)
	}
	return nil
}

func (s *JournalService) handleTransition(ctx context.Context, ev domain.Event) error {
	var t domain.StateTransition
	if err := ev.Decode(&t); err != nil {
		return err
	}
	if s.exporter != nil {
		s.exporter.Add(exportTransitions, t)
	}
	if s.store == nil {
		return nil
	}
	if err := s.store.RecordTransition(ctx, t); err != nil {
		return fmt.Errorf("journal_service: %w", err)
	}
	return nil
}

// whales exports whale intents from the lossy topic; they have no stream.
func (s *JournalService) whales(ctx context.Context) error {
	ch, err := s.bus.Subscribe(ctx, domain.TopicWhale)
	if err != nil {
		return fmt.Errorf("journal_service: subscribe %s: %w", domain.TopicWhale, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				continue
			}
			var w domain.WhaleIntentEvent
			if err := ev.Decode(&w); err != nil {
				continue
			}
			s.exporter.Add(exportWhale, w)
		}
	}
}
