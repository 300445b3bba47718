// Package engine runs the signal pipeline: every order-book snapshot is
// classified, scored and checked for manipulation, and actionable signals are
// combined with the whale gating state into trade decisions.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predator/internal/decision"
	"github.com/alanyoungcy/predator/internal/domain"
	"github.com/alanyoungcy/predator/internal/liquidity"
	"github.com/alanyoungcy/predator/internal/manipulation"
	"github.com/alanyoungcy/predator/internal/microstructure"
	"github.com/alanyoungcy/predator/internal/whale"
)

// Config gathers the per-component parameters and the engine's own knobs.
type Config struct {
	Classifier   microstructure.Config
	Liquidity    liquidity.Config
	Spoof        manipulation.SpoofConfig
	Wash         manipulation.WashConfig
	Detector     whale.DetectorConfig
	Machine      whale.MachineConfig
	Decision     decision.Config
	OutboxSize   int
	WhaleBuffer  int
	RecentLimit  int
	ExpireEvery  time.Duration
	PublishEvery time.Duration // dashboard cadence for liquidity/manipulation
	// LivePrice prices whale transfers at the order book mid instead of
	// Detector.TokenPriceUSD.
	LivePrice bool
	// VolumeWindow derives the liquidity volume profile from the trade tape.
	// Zero leaves it to SetVolumeProfile.
	VolumeWindow time.Duration
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		Classifier:   microstructure.DefaultConfig(),
		Liquidity:    liquidity.DefaultConfig(),
		Spoof:        manipulation.DefaultSpoofConfig(),
		Wash:         manipulation.DefaultWashConfig(),
		Detector:     whale.DefaultDetectorConfig(),
		Machine:      whale.DefaultMachineConfig(),
		Decision:     decision.DefaultConfig(),
		OutboxSize:   4096,
		WhaleBuffer:  1024,
		RecentLimit:  500,
		ExpireEvery:  time.Second,
		PublishEvery: 5 * time.Second,
	}
}

// Observer receives pipeline measurements. The metrics package implements it.
type Observer interface {
	ObserveSnapshot(latency time.Duration, sig domain.MarketSignal, liq domain.LiquidityScore)
	ObserveDecision(d domain.TradeDecision)
	ObserveManipulation(a domain.ManipulationAssessment)
	ObserveWhale(ev domain.WhaleIntentEvent)
	ObserveState(s domain.StateSnapshot)
	ObserveOutboxDrop()
}

type nopObserver struct{}

func (nopObserver) ObserveSnapshot(time.Duration, domain.MarketSignal, domain.LiquidityScore) {}
func (nopObserver) ObserveDecision(domain.TradeDecision)                                      {}
func (nopObserver) ObserveManipulation(domain.ManipulationAssessment)                         {}
func (nopObserver) ObserveWhale(domain.WhaleIntentEvent)                                      {}
func (nopObserver) ObserveState(domain.StateSnapshot)                                         {}
func (nopObserver) ObserveOutboxDrop()                                                        {}

// outboxItem is one pending bus write. The payload is encoded by the
// publisher so the snapshot path never marshals JSON.
type outboxItem struct {
	topic     string
	stream    string
	eventType string
	at        time.Time
	payload   any
	cacheKind string
	cacheVal  any // defaults to payload
}

// chainInput carries one raw chain event to the whale loop.
type chainInput struct {
	transfer *domain.TransactionEvent
	pending  *domain.PendingTransactionEvent
}

// Engine owns every pipeline component for one asset.
type Engine struct {
	cfg        Config
	classifier *microstructure.Classifier
	scorer     *liquidity.Scorer
	monitor    *manipulation.Monitor
	detector   *whale.Detector
	machine    *whale.Machine
	bus        domain.SignalBus
	cache      domain.SnapshotCache
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time

	// tickMu serialises the snapshot path so history order matches arrival.
	tickMu      sync.Mutex
	lastPublish time.Time

	outbox  chan outboxItem
	chainIn chan chainInput

	openPositions atomic.Int64
	midBits       atomic.Uint64
	dropped       atomic.Uint64
	chainDropped  atomic.Uint64

	evidence func() domain.FeedHealth

	volume *volumeTracker

	mu      sync.RWMutex
	recent  []domain.TradeDecision
	profile domain.VolumeProfile
}

// Option customises an Engine.
type Option func(*Engine)

// WithSnapshotCache mirrors dashboard views into cache.
func WithSnapshotCache(c domain.SnapshotCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides the engine, detector and state machine clock.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// WithEvidenceHealth reports the whale feed health. When the feed is not
// usable, decisions are rejected as data unavailable.
func WithEvidenceHealth(fn func() domain.FeedHealth) Option {
	return func(e *Engine) { e.evidence = fn }
}

// New wires the pipeline components together. bus may be nil, in which case
// events are dropped after the observer sees them.
func New(cfg Config, bus domain.SignalBus, logger *slog.Logger, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = def.OutboxSize
	}
	if cfg.WhaleBuffer <= 0 {
		cfg.WhaleBuffer = def.WhaleBuffer
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = def.RecentLimit
	}
	if cfg.ExpireEvery <= 0 {
		cfg.ExpireEvery = def.ExpireEvery
	}
	if cfg.PublishEvery <= 0 {
		cfg.PublishEvery = def.PublishEvery
	}

	e := &Engine{
		cfg:      cfg,
		bus:      bus,
		observer: nopObserver{},
		logger:   logger.With(slog.String("component", "signal_engine")),
		now:      time.Now,
		outbox:   make(chan outboxItem, cfg.OutboxSize),
		chainIn:  make(chan chainInput, cfg.WhaleBuffer),
	}
	for _, opt := range opts {
		opt(e)
	}

	detectorOpts := []whale.DetectorOption{whale.WithDetectorClock(e.now)}
	if cfg.LivePrice {
		detectorOpts = append(detectorOpts, whale.WithPriceSource(e.MidPrice))
	}
	e.classifier = microstructure.NewClassifier(cfg.Classifier, logger)
	e.scorer = liquidity.NewScorer(cfg.Liquidity, logger)
	e.monitor = manipulation.NewMonitor(cfg.Spoof, cfg.Wash, logger)
	e.detector = whale.NewDetector(cfg.Detector, logger, detectorOpts...)
	e.machine = whale.NewMachine(cfg.Machine, logger, whale.WithClock(e.now))
	e.machine.OnTransition(e.onTransition)
	if cfg.VolumeWindow > 0 {
		e.volume = newVolumeTracker(cfg.VolumeWindow)
	}
	return e
}

// OnSnapshot runs the hot path for one order-book snapshot and returns the
// classifier output plus the decision, which is nil for non-actionable
// signals. It never blocks on I/O.
func (e *Engine) OnSnapshot(snap domain.OrderBookSnapshot) (domain.MarketSignal, *domain.TradeDecision) {
	start := time.Now()
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	sig := e.classifier.Observe(snap)
	if sig.Price > 0 {
		e.midBits.Store(math.Float64bits(sig.Price))
	}

	e.mu.RLock()
	profile := e.profile
	e.mu.RUnlock()
	liq, err := e.scorer.Score(snap, profile)
	if err != nil {
		e.logger.Debug("liquidity score skipped", slog.String("error", err.Error()))
	}

	e.monitor.ObserveSnapshot(snap)
	assessment := e.monitor.Assess(snap.Timestamp)
	e.observer.ObserveManipulation(assessment)

	var out *domain.TradeDecision
	if sig.Actionable() {
		d := decision.Combine(decision.Inputs{
			Signal:              sig,
			State:               e.machine.Snapshot(),
			Liquidity:           liq,
			Manipulation:        assessment,
			OpenPositions:       int(e.openPositions.Load()),
			EvidenceUnavailable: !e.evidenceUsable(),
			Now:                 snap.Timestamp,
		}, e.cfg.Decision)
		d.ID = uuid.NewString()
		e.remember(d)
		e.observer.ObserveDecision(d)
		e.enqueue(outboxItem{
			topic:     domain.TopicDecision,
			stream:    domain.StreamDecisions,
			eventType: domain.EventTradeDecision,
			at:        d.CreatedAt,
			payload:   d,
		})
		e.logger.Info("trade decision",
			slog.String("id", d.ID),
			slog.String("signal", string(sig.Kind)),
			slog.Bool("allow", d.Allow),
			slog.String("reason", d.Reason),
			slog.String("grade", string(d.QualityGrade)),
			slog.Float64("sizing", d.SizingFactor),
		)
		out = &d
	}

	if err == nil && snap.Timestamp.Sub(e.lastPublish) >= e.cfg.PublishEvery {
		e.lastPublish = snap.Timestamp
		e.enqueue(outboxItem{
			topic: domain.TopicLiquidity, eventType: domain.EventLiquidity,
			at: snap.Timestamp, payload: liq, cacheKind: "liquidity",
		})
		e.enqueue(outboxItem{
			topic: domain.TopicManipulation, eventType: domain.EventManipulation,
			at: snap.Timestamp, payload: assessment, cacheKind: "manipulation",
		})
	}

	e.observer.ObserveSnapshot(time.Since(start), sig, liq)
	return sig, out
}

// OnTrade feeds the wash detector and, when enabled, the volume profile.
func (e *Engine) OnTrade(t domain.Trade) {
	e.monitor.ObserveTrade(t)
	if e.volume != nil {
		e.SetVolumeProfile(e.volume.Add(t))
	}
}

// OnTransfer queues a mined token transfer touching a watched whale for the
// whale loop. Other transfers are discarded here so noise cannot crowd whale
// evidence out of the queue. It drops the event when the loop is saturated.
func (e *Engine) OnTransfer(ev domain.TransactionEvent) {
	if !e.detector.Watches(ev.From, ev.To) {
		return
	}
	e.queueChain(chainInput{transfer: &ev})
}

// OnPending queues a mempool transaction touching a watched whale for the
// whale loop.
func (e *Engine) OnPending(ev domain.PendingTransactionEvent) {
	if !e.detector.PendingWatched(ev) {
		return
	}
	e.queueChain(chainInput{pending: &ev})
}

// PendingCandidate is the pre-recovery mempool filter for the chain feed.
func (e *Engine) PendingCandidate(to common.Address, value *big.Int, data []byte) bool {
	return e.detector.PendingCandidate(to, value, data)
}

func (e *Engine) queueChain(in chainInput) {
	select {
	case e.chainIn <- in:
	default:
		n := e.chainDropped.Add(1)
		e.logger.Warn("whale queue full, chain event dropped", slog.Uint64("dropped_total", n))
	}
}

// HandleChainEvent runs detection and gating synchronously for one event. It
// returns the intent when the event was relevant.
func (e *Engine) HandleChainEvent(transfer *domain.TransactionEvent, pending *domain.PendingTransactionEvent) (domain.WhaleIntentEvent, bool) {
	var (
		intent domain.WhaleIntentEvent
		ok     bool
		err    error
	)
	switch {
	case transfer != nil:
		intent, ok, err = e.detector.HandleTransfer(*transfer)
	case pending != nil:
		intent, ok, err = e.detector.HandlePending(*pending)
	default:
		return intent, false
	}
	if err != nil {
		e.logger.Debug("chain event rejected", slog.String("error", err.Error()))
		return intent, false
	}
	if !ok {
		return intent, false
	}

	e.observer.ObserveWhale(intent)
	e.enqueue(outboxItem{
		topic:     domain.TopicWhale,
		eventType: domain.EventWhaleIntent,
		at:        intent.DetectedAt,
		payload:   intent,
	})
	e.machine.OnWhaleIntent(intent)
	return intent, true
}

// SetOpenPositions records the execution layer's open position count used for
// sizing.
func (e *Engine) SetOpenPositions(n int) {
	if n < 0 {
		n = 0
	}
	e.openPositions.Store(int64(n))
}

// SetVolumeProfile updates the volume context handed to the liquidity scorer.
func (e *Engine) SetVolumeProfile(p domain.VolumeProfile) {
	e.mu.Lock()
	e.profile = p
	e.mu.Unlock()
}

// MidPrice returns the last valid mid price, or 0 before the first snapshot.
func (e *Engine) MidPrice() float64 {
	return math.Float64frombits(e.midBits.Load())
}

// Machine exposes the gating state machine for operator actions.
func (e *Engine) Machine() *whale.Machine { return e.machine }

// Liquidity returns the latest liquidity score.
func (e *Engine) Liquidity() domain.LiquidityScore { return e.scorer.Latest() }

// Manipulation returns the latest manipulation assessment.
func (e *Engine) Manipulation() domain.ManipulationAssessment { return e.monitor.Latest() }

// DetectorStats returns the whale detector counters.
func (e *Engine) DetectorStats() whale.DetectorStats { return e.detector.Stats() }

// Dropped returns the number of outbox events dropped on overflow.
func (e *Engine) Dropped() uint64 { return e.dropped.Load() }

// RecentDecisions returns up to limit recent decisions, newest first.
func (e *Engine) RecentDecisions(limit int) []domain.TradeDecision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 || limit > len(e.recent) {
		limit = len(e.recent)
	}
	out := make([]domain.TradeDecision, 0, limit)
	for i := len(e.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

// Reset is a cold restart: momentum, liquidity history and manipulation
// windows re-warm and the state machine returns to PATIENT.
func (e *Engine) Reset() {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	e.classifier.Reset()
	e.scorer.Reset()
	e.monitor.Reset()
	e.machine.Reset()
	if e.volume != nil {
		e.volume.Reset()
	}
	e.SetVolumeProfile(domain.VolumeProfile{})
	e.lastPublish = time.Time{}
	e.midBits.Store(0)
	e.logger.Info("engine reset to cold state")
}

// Run drives the whale loop, the hunt expiry ticker and the outbox publisher
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("signal engine started")
	defer e.logger.Info("signal engine stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.runWhale(gctx) })
	g.Go(func() error { return e.runExpiry(gctx) })
	g.Go(func() error { return e.runPublisher(gctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) runWhale(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-e.chainIn:
			e.HandleChainEvent(in.transfer, in.pending)
		}
	}
}

func (e *Engine) runExpiry(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ExpireEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.machine.Expire()
		}
	}
}

func (e *Engine) runPublisher(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-e.outbox:
			if err := e.publish(ctx, item); err != nil {
				e.logger.Warn("publish failed",
					slog.String("topic", item.topic),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (e *Engine) publish(ctx context.Context, item outboxItem) error {
	if e.cache != nil && item.cacheKind != "" {
		v := item.cacheVal
		if v == nil {
			v = item.payload
		}
		if err := e.cache.Put(ctx, item.cacheKind, v); err != nil {
			e.logger.Debug("snapshot cache put failed", slog.String("kind", item.cacheKind), slog.String("error", err.Error()))
		}
	}
	if e.bus == nil {
		return nil
	}
	ev, err := domain.NewEvent(item.eventType, item.at, item.payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("engine: encode event: %w", err)
	}
	if err := e.bus.Publish(ctx, item.topic, raw); err != nil {
		return err
	}
	if item.stream != "" {
		if err := e.bus.StreamAppend(ctx, item.stream, raw); err != nil {
			return err
		}
	}
	return nil
}

// enqueue hands an item to the publisher without blocking.
func (e *Engine) enqueue(item outboxItem) {
	select {
	case e.outbox <- item:
	default:
		n := e.dropped.Add(1)
		e.observer.ObserveOutboxDrop()
		e.logger.Warn("outbox full, event dropped",
			slog.String("topic", item.topic),
			slog.Uint64("dropped_total", n),
		)
	}
}

func (e *Engine) onTransition(t domain.StateTransition, snap domain.StateSnapshot) {
	e.observer.ObserveState(snap)
	e.enqueue(outboxItem{
		topic:     domain.TopicState,
		stream:    domain.StreamTransitions,
		eventType: domain.EventStateTransition,
		at:        t.Timestamp,
		payload:   domain.StateChange{StateTransition: t, Snapshot: snap},
		cacheKind: "state",
		cacheVal:  snap,
	})
}

func (e *Engine) remember(d domain.TradeDecision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recent = append(e.recent, d)
	if overflow := len(e.recent) - e.cfg.RecentLimit; overflow > 0 {
		e.recent = append([]domain.TradeDecision(nil), e.recent[overflow:]...)
	}
}

func (e *Engine) evidenceUsable() bool {
	if e.evidence == nil {
		return true
	}
	return e.evidence().Usable()
}
