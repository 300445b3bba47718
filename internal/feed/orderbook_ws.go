package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/predator/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// SnapshotHandler receives every decoded order-book snapshot.
type SnapshotHandler func(domain.OrderBookSnapshot)

// TradeHandler receives every decoded trade print.
type TradeHandler func(domain.Trade)

// OrderBookWS is a Provider for an exchange websocket that pushes full book
// snapshots and trade prints as JSON frames:
//
//	{"type":"book","bids":[["99.5","1200"]],"asks":[[100.1,800]],"timestamp":1700000000000}
//	{"type":"trade","price":"100","size":"5","side":"buy","timestamp":1700000000000}
//
// Numbers may be JSON numbers or strings; timestamps are Unix milliseconds.
type OrderBookWS struct {
	name      string
	url       string
	subscribe []byte
	onBook    SnapshotHandler
	onTrade   TradeHandler
	logger    *slog.Logger
}

// NewOrderBookWS creates the provider. subscribe, when non-empty, is sent
// verbatim after each connect.
func NewOrderBookWS(name, url, subscribe string, onBook SnapshotHandler, onTrade TradeHandler, logger *slog.Logger) *OrderBookWS {
	var sub []byte
	if strings.TrimSpace(subscribe) != "" {
		sub = []byte(subscribe)
	}
	return &OrderBookWS{
		name:      name,
		url:       url,
		subscribe: sub,
		onBook:    onBook,
		onTrade:   onTrade,
		logger:    logger.With(slog.String("component", "orderbook_ws"), slog.String("provider", name)),
	}
}

// Name implements Provider.
func (f *OrderBookWS) Name() string { return f.name }

// Stream implements Provider.
func (f *OrderBookWS) Stream(ctx context.Context, sess *Session) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.name, err)
	}
	defer conn.Close()

	if f.subscribe != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, f.subscribe); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", f.name, err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	sess.Connected()

	// Closing the connection unblocks ReadMessage on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read %s: %w: %v", f.name, domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		f.handle(raw, sess)
	}
}

func (f *OrderBookWS) handle(raw []byte, sess *Session) {
	snap, trade, kind, err := decodeFrame(raw)
	if err != nil {
		f.logger.Debug("frame dropped", slog.String("error", err.Error()))
		return
	}
	switch kind {
	case frameBook:
		sess.Event(snap.Timestamp)
		if f.onBook != nil {
			f.onBook(snap)
		}
	case frameTrade:
		sess.Event(trade.Timestamp)
		if f.onTrade != nil {
			f.onTrade(trade)
		}
	}
}

type frameKind int

const (
	frameUnknown frameKind = iota
	frameBook
	frameTrade
)

// flexFloat decodes a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = flexFloat(v)
	return nil
}

type wireFrame struct {
	Type      string         `json:"type"`
	Bids      [][2]flexFloat `json:"bids"`
	Asks      [][2]flexFloat `json:"asks"`
	Price     flexFloat      `json:"price"`
	Size      flexFloat      `json:"size"`
	Side      string         `json:"side"`
	Timestamp int64          `json:"timestamp"`
}

// decodeFrame parses one websocket frame. Unknown frame types decode to
// frameUnknown without error; structurally bad frames return an error
// wrapping domain.ErrMalformedSnapshot.
func decodeFrame(raw []byte) (domain.OrderBookSnapshot, domain.Trade, frameKind, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.OrderBookSnapshot{}, domain.Trade{}, frameUnknown, fmt.Errorf("%w: %v", domain.ErrMalformedSnapshot, err)
	}
	ts := time.UnixMilli(w.Timestamp).UTC()
	switch w.Type {
	case "book", "snapshot":
		snap := domain.OrderBookSnapshot{
			Bids:      levels(w.Bids),
			Asks:      levels(w.Asks),
			Timestamp: ts,
		}
		if w.Timestamp <= 0 {
			snap.Timestamp = time.Time{}
		}
		if err := snap.Validate(); err != nil {
			return domain.OrderBookSnapshot{}, domain.Trade{}, frameUnknown, err
		}
		return snap, domain.Trade{}, frameBook, nil
	case "trade":
		t := domain.Trade{Price: float64(w.Price), Size: float64(w.Size), Side: w.Side, Timestamp: ts}
		if w.Timestamp <= 0 || !t.Valid() {
			return domain.OrderBookSnapshot{}, domain.Trade{}, frameUnknown, fmt.Errorf("%w: bad trade", domain.ErrMalformedSnapshot)
		}
		return domain.OrderBookSnapshot{}, t, frameTrade, nil
	default:
		return domain.OrderBookSnapshot{}, domain.Trade{}, frameUnknown, nil
	}
}

func levels(in [][2]flexFloat) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.PriceLevel{Price: float64(l[0]), Size: float64(l[1])})
	}
	return out
}
