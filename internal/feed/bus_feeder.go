package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predator/internal/domain"
)

// Bus channels an external gateway publishes market data on.
const (
	ChannelBook   = "ch:book"
	ChannelTrades = "ch:trades"
)

// BusFeeder is a Provider that consumes order-book snapshots and trades a
// separate gateway process publishes on the signal bus, for deployments
// where the engine does not dial the exchange itself.
type BusFeeder struct {
	bus     domain.SignalBus
	onBook  SnapshotHandler
	onTrade TradeHandler
	logger  *slog.Logger
}

// NewBusFeeder creates a BusFeeder.
func NewBusFeeder(bus domain.SignalBus, onBook SnapshotHandler, onTrade TradeHandler, logger *slog.Logger) *BusFeeder {
	return &BusFeeder{
		bus:     bus,
		onBook:  onBook,
		onTrade: onTrade,
		logger:  logger.With(slog.String("component", "bus_feeder")),
	}
}

// Name implements Provider.
func (f *BusFeeder) Name() string { return "bus" }

// Stream implements Provider.
func (f *BusFeeder) Stream(ctx context.Context, sess *Session) error {
	books, err := f.bus.Subscribe(ctx, ChannelBook)
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", ChannelBook, err)
	}
	trades, err := f.bus.Subscribe(ctx, ChannelTrades)
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", ChannelTrades, err)
	}
	sess.Connected()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-books:
			if !ok {
				return fmt.Errorf("feed: %s closed: %w", ChannelBook, domain.ErrSourceUnavailable)
			}
			var snap domain.OrderBookSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				f.logger.Debug("book message dropped", slog.String("error", err.Error()))
				continue
			}
			if err := snap.Validate(); err != nil {
				f.logger.Debug("book message dropped", slog.String("error", err.Error()))
				continue
			}
			sess.Event(snap.Timestamp)
			if f.onBook != nil {
				f.onBook(snap)
			}
		case data, ok := <-trades:
			if !ok {
				return fmt.Errorf("feed: %s closed: %w", ChannelTrades, domain.ErrSourceUnavailable)
			}
			var t domain.Trade
			if err := json.Unmarshal(data, &t); err != nil || !t.Valid() {
				f.logger.Debug("trade message dropped", slog.Int("payload_len", len(data)))
				continue
			}
			sess.Event(t.Timestamp)
			if f.onTrade != nil {
				f.onTrade(t)
			}
		}
	}
}
