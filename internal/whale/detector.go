// Package whale classifies watched-wallet transactions into intent events and
// owns the gating state machine those intents drive.
package whale

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/predator/internal/domain"
)

// transferSelector is the 4-byte selector of ERC-20 transfer(address,uint256).
var transferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// Intent confidences.
const (
	confidenceDeposit  = 0.9
	confidenceTransfer = 0.6
	confidenceSwap     = 0.7
)

// DetectorConfig configures the intent detector.
type DetectorConfig struct {
	Whales           []common.Address
	Exchanges        map[common.Address]string // deposit address -> exchange name
	DexRouters       []common.Address          // empty: any contract call counts as a swap
	Token            common.Address            // watched ERC-20 contract
	TokenDecimals    uint8
	TokenPriceUSD    float64 // fallback when no live price is wired
	NativePriceUSD   float64
	LargeTransferUSD float64
	DedupTTL         time.Duration
	DedupCapacity    int
}

// DefaultDetectorConfig returns the stock detector parameters with empty
// address sets.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Exchanges:        map[common.Address]string{},
		TokenDecimals:    18,
		LargeTransferUSD: 1_000_000,
		DedupTTL:         time.Hour,
		DedupCapacity:    50_000,
	}
}

// DetectorStats are cumulative counters for observability.
type DetectorStats struct {
	Seen       uint64
	Filtered   uint64
	Duplicates uint64
	Malformed  uint64
	Emitted    uint64
}

// Detector turns raw chain events into WhaleIntentEvents. Events touching no
// watched whale are dropped before any other work.
type Detector struct {
	cfg       DetectorConfig
	whales    map[common.Address]struct{}
	routers   map[common.Address]struct{}
	dedup     *Dedup
	price     func() float64
	now       func() time.Time
	logger    *slog.Logger
	seen      atomic.Uint64
	filtered  atomic.Uint64
	dupes     atomic.Uint64
	malformed atomic.Uint64
	emitted   atomic.Uint64
}

// DetectorOption customises a Detector.
type DetectorOption func(*Detector)

// WithPriceSource sets a live USD price for the watched token. Non-positive
// readings fall back to TokenPriceUSD.
func WithPriceSource(fn func() float64) DetectorOption {
	return func(d *Detector) { d.price = fn }
}

// WithDetectorClock overrides the detection clock.
func WithDetectorClock(fn func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = fn }
}

// NewDetector creates a Detector.
func NewDetector(cfg DetectorConfig, logger *slog.Logger, opts ...DetectorOption) *Detector {
	d := &Detector{
		cfg:     cfg,
		whales:  make(map[common.Address]struct{}, len(cfg.Whales)),
		routers: make(map[common.Address]struct{}, len(cfg.DexRouters)),
		dedup:   NewDedup(cfg.DedupTTL, cfg.DedupCapacity),
		now:     time.Now,
		logger:  logger.With(slog.String("component", "whale_detector")),
	}
	if d.cfg.Exchanges == nil {
		d.cfg.Exchanges = map[common.Address]string{}
	}
	for _, a := range cfg.Whales {
		d.whales[a] = struct{}{}
	}
	for _, a := range cfg.DexRouters {
		d.routers[a] = struct{}{}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsWhale reports whether addr is on the watchlist.
func (d *Detector) IsWhale(addr common.Address) bool {
	_, ok := d.whales[addr]
	return ok
}

// Watches reports whether a transfer between from and to touches a watched
// whale. It only reads the address sets and is safe for concurrent use, so
// feeds can drop irrelevant traffic before queueing it.
func (d *Detector) Watches(from, to common.Address) bool {
	_, ok := d.involved(from, to)
	return ok
}

// PendingCandidate is the check run on a mempool transaction before its
// sender is recovered. It passes transactions addressed to a whale, an
// exchange, the watched token or a DEX router, and plain native transfers
// large enough to classify. With no routers configured every contract call
// passes.
func (d *Detector) PendingCandidate(to common.Address, value *big.Int, data []byte) bool {
	if _, ok := d.whales[to]; ok {
		return true
	}
	if _, ok := d.cfg.Exchanges[to]; ok {
		return true
	}
	if to == d.cfg.Token && d.cfg.Token != (common.Address{}) {
		return true
	}
	if len(data) == 0 {
		return scaleUnits(value, 18)*d.cfg.NativePriceUSD > d.cfg.LargeTransferUSD
	}
	if len(d.routers) == 0 {
		return true
	}
	_, ok := d.routers[to]
	return ok
}

// PendingWatched reports whether a recovered mempool transaction touches a
// watched whale, looking through ERC-20 transfer calldata of the watched
// token for the real recipient.
func (d *Detector) PendingWatched(ev domain.PendingTransactionEvent) bool {
	_, ok := d.involved(ev.From, d.pendingRecipient(ev))
	return ok
}

func (d *Detector) pendingRecipient(ev domain.PendingTransactionEvent) common.Address {
	if ev.To == d.cfg.Token && d.cfg.Token != (common.Address{}) {
		if to, _, decoded := DecodeERC20Transfer(ev.Data); decoded {
			return to
		}
	}
	return ev.To
}

// HandleTransfer classifies a mined token transfer. ok is false when the
// transfer is not relevant.
func (d *Detector) HandleTransfer(ev domain.TransactionEvent) (intent domain.WhaleIntentEvent, ok bool, err error) {
	d.seen.Add(1)
	whale, involved := d.involved(ev.From, ev.To)
	if !involved {
		d.filtered.Add(1)
		return domain.WhaleIntentEvent{}, false, nil
	}
	if ev.Hash == "" || ev.Value == nil || ev.Value.Sign() < 0 || ev.Timestamp.IsZero() {
		d.malformed.Add(1)
		return domain.WhaleIntentEvent{}, false, fmt.Errorf("whale: transfer %q: %w", ev.Hash, domain.ErrMalformedTransaction)
	}

	amount := scaleUnits(ev.Value, ev.TokenDecimals)
	usd := amount * d.tokenPrice()
	intentType, exchange, conf, relevant := d.classifyTransfer(ev.To, usd)
	if !relevant {
		d.filtered.Add(1)
		return domain.WhaleIntentEvent{}, false, nil
	}
	return d.emit(domain.WhaleIntentEvent{
		WhaleAddress:   whale.Hex(),
		TxHash:         ev.Hash,
		IntentType:     intentType,
		TokenAmount:    amount,
		EstimatedValue: usd,
		TargetExchange: exchange,
		Confidence:     conf,
		OccurredAt:     ev.Timestamp,
	})
}

// HandlePending classifies a mempool transaction. Token transfers of the
// watched contract are decoded from calldata and treated like mined
// transfers; other contract calls are swaps; plain value transfers are
// classified on their native value.
func (d *Detector) HandlePending(ev domain.PendingTransactionEvent) (intent domain.WhaleIntentEvent, ok bool, err error) {
	d.seen.Add(1)

	recipient := ev.To
	var tokenAmount *big.Int
	isTokenTransfer := false
	if ev.To == d.cfg.Token && d.cfg.Token != (common.Address{}) {
		if to, amt, decoded := DecodeERC20Transfer(ev.Data); decoded {
			recipient, tokenAmount, isTokenTransfer = to, amt, true
		}
	}

	whale, involved := d.involved(ev.From, recipient)
	if !involved {
		d.filtered.Add(1)
		return domain.WhaleIntentEvent{}, false, nil
	}
	if ev.Hash == "" || ev.Timestamp.IsZero() || (ev.Value != nil && ev.Value.Sign() < 0) {
		d.malformed.Add(1)
		return domain.WhaleIntentEvent{}, false, fmt.Errorf("whale: pending %q: %w", ev.Hash, domain.ErrMalformedTransaction)
	}

	base := domain.WhaleIntentEvent{
		WhaleAddress: whale.Hex(),
		TxHash:       ev.Hash,
		Pending:      true,
		OccurredAt:   ev.Timestamp,
	}

	switch {
	case isTokenTransfer:
		amount := scaleUnits(tokenAmount, d.cfg.TokenDecimals)
		usd := amount * d.tokenPrice()
		intentType, exchange, conf, relevant := d.classifyTransfer(recipient, usd)
		if !relevant {
			d.filtered.Add(1)
			return domain.WhaleIntentEvent{}, false, nil
		}
		base.IntentType, base.TargetExchange, base.Confidence = intentType, exchange, conf
		base.TokenAmount, base.EstimatedValue = amount, usd
	case len(ev.Data) > 0:
		if len(d.routers) > 0 {
			if _, ok := d.routers[ev.To]; !ok {
				d.filtered.Add(1)
				return domain.WhaleIntentEvent{}, false, nil
			}
		}
		base.IntentType, base.Confidence = domain.IntentDexSwap, confidenceSwap
		base.EstimatedValue = scaleUnits(ev.Value, 18) * d.cfg.NativePriceUSD
	default:
		usd := scaleUnits(ev.Value, 18) * d.cfg.NativePriceUSD
		intentType, exchange, conf, relevant := d.classifyTransfer(ev.To, usd)
		if !relevant {
			d.filtered.Add(1)
			return domain.WhaleIntentEvent{}, false, nil
		}
		base.IntentType, base.TargetExchange, base.Confidence = intentType, exchange, conf
		base.EstimatedValue = usd
	}
	return d.emit(base)
}

func (d *Detector) involved(from, to common.Address) (common.Address, bool) {
	if _, ok := d.whales[from]; ok {
		return from, true
	}
	if _, ok := d.whales[to]; ok {
		return to, true
	}
	return common.Address{}, false
}

func (d *Detector) classifyTransfer(to common.Address, usd float64) (domain.IntentType, string, float64, bool) {
	if name, ok := d.cfg.Exchanges[to]; ok {
		return domain.IntentExchangeDeposit, name, confidenceDeposit, true
	}
	if usd > d.cfg.LargeTransferUSD {
		return domain.IntentLargeTransfer, "", confidenceTransfer, true
	}
	return "", "", 0, false
}

func (d *Detector) emit(ev domain.WhaleIntentEvent) (domain.WhaleIntentEvent, bool, error) {
	now := d.now()
	if d.dedup.IsDuplicate(strings.ToLower(ev.TxHash), now) {
		d.dupes.Add(1)
		return domain.WhaleIntentEvent{}, false, nil
	}
	ev.ID = uuid.New().String()
	ev.ThreatLevel = ThreatFor(ev.IntentType, ev.EstimatedValue)
	ev.DetectedAt = now
	if lat := now.Sub(ev.OccurredAt); lat > 0 {
		ev.DetectionLatency = lat
	}
	d.emitted.Add(1)
	d.logger.Info("whale intent",
		slog.String("whale", ev.WhaleAddress),
		slog.String("tx", ev.TxHash),
		slog.String("intent", string(ev.IntentType)),
		slog.String("threat", string(ev.ThreatLevel)),
		slog.Float64("usd", ev.EstimatedValue),
		slog.Bool("pending", ev.Pending),
	)
	return ev, true, nil
}

func (d *Detector) tokenPrice() float64 {
	if d.price != nil {
		if p := d.price(); p > 0 && !math.IsInf(p, 0) {
			return p
		}
	}
	return d.cfg.TokenPriceUSD
}

// Stats returns a copy of the detector counters.
func (d *Detector) Stats() DetectorStats {
	return DetectorStats{
		Seen:       d.seen.Load(),
		Filtered:   d.filtered.Load(),
		Duplicates: d.dupes.Load(),
		Malformed:  d.malformed.Load(),
		Emitted:    d.emitted.Load(),
	}
}

// ThreatFor grades an intent by type and USD value.
func ThreatFor(intent domain.IntentType, usd float64) domain.ThreatLevel {
	var critical, high, medium float64
	switch intent {
	case domain.IntentExchangeDeposit:
		critical, high, medium = 10_000_000, 1_000_000, 100_000
	case domain.IntentLargeTransfer:
		critical, high, medium = 50_000_000, 10_000_000, 1_000_000
	case domain.IntentDexSwap:
		critical, high, medium = 5_000_000, 1_000_000, 250_000
	default:
		return domain.ThreatLow
	}
	switch {
	case usd > critical:
		return domain.ThreatCritical
	case usd > high:
		return domain.ThreatHigh
	case usd > medium:
		return domain.ThreatMedium
	default:
		return domain.ThreatLow
	}
}

// DecodeERC20Transfer extracts recipient and amount from transfer calldata.
func DecodeERC20Transfer(data []byte) (common.Address, *big.Int, bool) {
	if len(data) != 4+32+32 || !bytes.Equal(data[:4], transferSelector) {
		return common.Address{}, nil, false
	}
	// The address word must be left-padded with zeros.
	for _, b := range data[4:16] {
		if b != 0 {
			return common.Address{}, nil, false
		}
	}
	to := common.BytesToAddress(data[16:36])
	amount := new(big.Int).SetBytes(data[36:68])
	return to, amount, true
}

// scaleUnits converts raw integer units to a float amount.
func scaleUnits(v *big.Int, decimals uint8) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v)
	if decimals > 0 {
		f.Quo(f, new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	}
	out, _ := f.Float64()
	return out
}
