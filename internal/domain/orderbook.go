package domain

import (
	"fmt"
	"math"
	"time"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookSnapshot is a full snapshot of bids (descending) and asks
// (ascending). Snapshots are replaced wholesale on every tick and must not be
// mutated once handed to the engine.
type OrderBookSnapshot struct {
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestBid returns the highest bid price, or 0 when the bid side is empty.
func (s OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the ask side is empty.
func (s OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// MidPrice returns the midpoint of the touch. With one side empty it falls
// back to the other side's best price.
func (s OrderBookSnapshot) MidPrice() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	default:
		return ask
	}
}

// Validate reports whether every level carries a finite positive price and a
// finite non-negative size, and the snapshot is timestamped.
func (s OrderBookSnapshot) Validate() error {
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedSnapshot)
	}
	if err := validateLevels("bid", s.Bids); err != nil {
		return err
	}
	return validateLevels("ask", s.Asks)
}

func validateLevels(side string, levels []PriceLevel) error {
	for i, l := range levels {
		if !finite(l.Price) || l.Price <= 0 {
			return fmt.Errorf("%w: %s level %d price %v", ErrMalformedSnapshot, side, i, l.Price)
		}
		if !finite(l.Size) || l.Size < 0 {
			return fmt.Errorf("%w: %s level %d size %v", ErrMalformedSnapshot, side, i, l.Size)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Trade is a single print on the exchange trade tape.
type Trade struct {
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      string    `json:"side"` // "buy" or "sell"
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the trade carries usable numbers.
func (t Trade) Valid() bool {
	return finite(t.Price) && t.Price > 0 && finite(t.Size) && t.Size > 0 && !t.Timestamp.IsZero()
}

// VolumeProfile is the externally supplied recent volume context used by the
// liquidity scorer.
type VolumeProfile struct {
	VWAP   float64 `json:"vwap"`
	Volume float64 `json:"volume"`
}
