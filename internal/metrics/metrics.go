// Package metrics exposes the engine's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/predator/internal/domain"
)

const namespace = "predator"

var states = []domain.SystemState{domain.StatePatient, domain.StateHunting, domain.StateStrike, domain.StateDefensive}

var connStates = []domain.ConnState{
	domain.ConnConnecting, domain.ConnConnected, domain.ConnBackoff, domain.ConnFailed, domain.ConnStopped,
}

// Recorder owns a private registry and implements the engine observer.
type Recorder struct {
	registry *prometheus.Registry

	snapshotLatency     prometheus.Histogram
	signals             *prometheus.CounterVec
	decisions           *prometheus.CounterVec
	liquidityScore      prometheus.Gauge
	liquidityPercentile prometheus.Gauge
	washScore           prometheus.Gauge
	spoofCount          prometheus.Gauge
	spoofingActive      prometheus.Gauge
	whaleIntents        *prometheus.CounterVec
	systemState         *prometheus.GaugeVec
	huntExpiresAt       prometheus.Gauge
	outboxDrops         prometheus.Counter
	feedState           *prometheus.GaugeVec
	feedStale           *prometheus.GaugeVec
	feedLastEvent       *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		snapshotLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_latency_seconds",
			Help:      "Time spent classifying, scoring and combining one snapshot.",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Classifier outputs by kind.",
		}, []string{"kind"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Trade decisions by outcome, reason and grade.",
		}, []string{"allow", "reason", "grade"}),
		liquidityScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "liquidity_score",
			Help:      "Latest composite liquidity score (0-100).",
		}),
		liquidityPercentile: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "liquidity_percentile",
			Help:      "Latest liquidity percentile against the rolling history.",
		}),
		washScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wash_score",
			Help:      "Latest wash-trading score (0-100).",
		}),
		spoofCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spoof_count",
			Help:      "Spoof walls counted since the last quiet window.",
		}),
		spoofingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spoofing_active",
			Help:      "1 while spoofing is active.",
		}),
		whaleIntents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "whale_intents_total",
			Help:      "Whale intents by type and threat level.",
		}, []string{"intent", "threat"}),
		systemState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_state",
			Help:      "1 for the current gating state, 0 otherwise.",
		}, []string{"state"}),
		huntExpiresAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hunt_expires_at_seconds",
			Help:      "Unix time the current hunt expires, 0 outside HUNTING.",
		}),
		outboxDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_drops_total",
			Help:      "Events dropped because the publish outbox was full.",
		}),
		feedState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_state",
			Help:      "1 for the current connection state of each feed.",
		}, []string{"feed", "state"}),
		feedStale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_stale",
			Help:      "1 when a feed has delivered nothing within its staleness window.",
		}, []string{"feed"}),
		feedLastEvent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_last_event_seconds",
			Help:      "Unix time of the last event seen on each feed.",
		}, []string{"feed"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.snapshotLatency, r.signals, r.decisions,
		r.liquidityScore, r.liquidityPercentile,
		r.washScore, r.spoofCount, r.spoofingActive,
		r.whaleIntents, r.systemState, r.huntExpiresAt,
		r.outboxDrops, r.feedState, r.feedStale, r.feedLastEvent,
	)
	r.ObserveState(domain.StateSnapshot{State: domain.StatePatient})
	return r
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveSnapshot records one pass of the snapshot path.
func (r *Recorder) ObserveSnapshot(latency time.Duration, sig domain.MarketSignal, liq domain.LiquidityScore) {
	r.snapshotLatency.Observe(latency.Seconds())
	if sig.Kind != "" {
		r.signals.WithLabelValues(string(sig.Kind)).Inc()
	}
	if !liq.Timestamp.IsZero() {
		r.liquidityScore.Set(liq.Value)
		r.liquidityPercentile.Set(liq.Percentile)
	}
}

// ObserveDecision counts a decision.
func (r *Recorder) ObserveDecision(d domain.TradeDecision) {
	allow := "false"
	if d.Allow {
		allow = "true"
	}
	r.decisions.WithLabelValues(allow, d.Reason, string(d.QualityGrade)).Inc()
}

// ObserveManipulation records the latest assessment.
func (r *Recorder) ObserveManipulation(a domain.ManipulationAssessment) {
	r.washScore.Set(a.WashScore)
	r.spoofCount.Set(float64(a.SpoofCount))
	r.spoofingActive.Set(boolGauge(a.SpoofingActive))
}

// ObserveWhale counts a whale intent.
func (r *Recorder) ObserveWhale(ev domain.WhaleIntentEvent) {
	r.whaleIntents.WithLabelValues(string(ev.IntentType), string(ev.ThreatLevel)).Inc()
}

// ObserveState records the gating state.
func (r *Recorder) ObserveState(s domain.StateSnapshot) {
	for _, st := range states {
		r.systemState.WithLabelValues(string(st)).Set(boolGauge(st == s.State))
	}
	if s.State == domain.StateHunting && !s.HuntExpiresAt.IsZero() {
		r.huntExpiresAt.Set(float64(s.HuntExpiresAt.Unix()))
	} else {
		r.huntExpiresAt.Set(0)
	}
}

// ObserveOutboxDrop counts one dropped outbox event.
func (r *Recorder) ObserveOutboxDrop() {
	r.outboxDrops.Inc()
}

// ObserveFeed records a feed health report.
func (r *Recorder) ObserveFeed(h domain.FeedHealth) {
	for _, st := range connStates {
		r.feedState.WithLabelValues(h.Name, string(st)).Set(boolGauge(st == h.State))
	}
	r.feedStale.WithLabelValues(h.Name).Set(boolGauge(h.Stale))
	if !h.LastEventAt.IsZero() {
		r.feedLastEvent.WithLabelValues(h.Name).Set(float64(h.LastEventAt.Unix()))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
