package whale

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/predator/internal/domain"
)

// MachineConfig configures the gating state machine.
type MachineConfig struct {
	HuntTrigger       float64       // token units of a single exchange deposit
	HuntDuration      time.Duration // HUNTING lifetime without re-trigger
	DumpValidity      time.Duration // dumps older than this are ignored
	HistorySize       int           // transitions kept in the log
	ExtendOnRetrigger bool          // a qualifying dump during HUNTING restarts the window
}

// DefaultMachineConfig returns the stock state machine parameters.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		HuntTrigger:  3_000_000,
		HuntDuration: 12 * time.Hour,
		DumpValidity: 6 * time.Hour,
		HistorySize:  100,
	}
}

// maxDumps caps the dump log under sustained deposit flow.
const maxDumps = 1024

// Dump is a recorded exchange deposit considered for hunt triggering.
type Dump struct {
	TxHash     string    `json:"tx_hash"`
	Whale      string    `json:"whale"`
	Amount     float64   `json:"amount"`
	Exchange   string    `json:"exchange"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TransitionFunc observes committed transitions. It runs outside the
// machine's lock and must not block for long.
type TransitionFunc func(domain.StateTransition, domain.StateSnapshot)

// Machine is the single owner of SystemState. Every mutation goes through
// apply under mu; readers get copy-out snapshots.
type Machine struct {
	cfg MachineConfig

	mu        sync.Mutex
	writing   atomic.Bool
	snap      domain.StateSnapshot
	history   []domain.StateTransition
	dumps     []Dump
	listeners []TransitionFunc

	now    func() time.Time
	logger *slog.Logger
}

// MachineOption customises a Machine.
type MachineOption func(*Machine)

// WithClock overrides the machine clock.
func WithClock(fn func() time.Time) MachineOption {
	return func(m *Machine) { m.now = fn }
}

// NewMachine creates a Machine in PATIENT.
func NewMachine(cfg MachineConfig, logger *slog.Logger, opts ...MachineOption) *Machine {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultMachineConfig().HistorySize
	}
	m := &Machine{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "state_machine")),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.snap = domain.StateSnapshot{State: domain.StatePatient, EnteredAt: m.now(), Cause: "startup"}
	return m
}

// OnTransition registers fn for every committed transition.
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Snapshot returns a consistent copy of the current state.
func (m *Machine) Snapshot() domain.StateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// History returns the bounded transition log, oldest first.
func (m *Machine) History() []domain.StateTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StateTransition, len(m.history))
	copy(out, m.history)
	return out
}

// RecentDumps returns the exchange deposits still inside the validity window.
func (m *Machine) RecentDumps() []Dump {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneDumpsLocked(m.now())
	out := make([]Dump, len(m.dumps))
	copy(out, m.dumps)
	return out
}

// OnWhaleIntent feeds a classified intent. Only exchange deposits at or above
// the hunt trigger and inside the validity window can open a hunt. It reports
// whether the state changed.
func (m *Machine) OnWhaleIntent(ev domain.WhaleIntentEvent) bool {
	if ev.IntentType != domain.IntentExchangeDeposit {
		return false
	}
	now := m.now()

	m.mu.Lock()
	m.pruneDumpsLocked(now)
	if now.Sub(ev.OccurredAt) > m.cfg.DumpValidity {
		m.mu.Unlock()
		m.logger.Debug("dump outside validity window", slog.String("tx", ev.TxHash))
		return false
	}
	m.dumps = append(m.dumps, Dump{
		TxHash:     ev.TxHash,
		Whale:      ev.WhaleAddress,
		Amount:     ev.TokenAmount,
		Exchange:   ev.TargetExchange,
		OccurredAt: ev.OccurredAt,
	})
	if over := len(m.dumps) - maxDumps; over > 0 {
		m.dumps = append(m.dumps[:0], m.dumps[over:]...)
	}
	if ev.TokenAmount < m.cfg.HuntTrigger {
		m.mu.Unlock()
		return false
	}

	cause := fmt.Sprintf("whale dump %s %.0f to %s", ev.TxHash, ev.TokenAmount, ev.TargetExchange)
	switch m.snap.State {
	case domain.StatePatient:
		tr := m.applyLocked(domain.StateHunting, cause, now, func(s *domain.StateSnapshot) {
			s.HuntExpiresAt = now.Add(m.cfg.HuntDuration)
			s.Confidence = ev.Confidence
		})
		m.mu.Unlock()
		m.notify(tr)
		return true
	case domain.StateHunting, domain.StateStrike:
		if m.cfg.ExtendOnRetrigger {
			m.snap.HuntExpiresAt = now.Add(m.cfg.HuntDuration)
			m.snap.Confidence = ev.Confidence
			m.snap.Version++
			expires := m.snap.HuntExpiresAt
			m.mu.Unlock()
			m.logger.Info("hunt extended", slog.String("tx", ev.TxHash), slog.Time("expires_at", expires))
			return false
		}
	}
	m.mu.Unlock()
	return false
}

// Expire returns an elapsed hunt to PATIENT. It reports whether it did.
func (m *Machine) Expire() bool {
	now := m.now()
	m.mu.Lock()
	if m.snap.State != domain.StateHunting || !now.After(m.snap.HuntExpiresAt) {
		m.mu.Unlock()
		return false
	}
	tr := m.applyLocked(domain.StatePatient, "hunt expired", now, nil)
	m.mu.Unlock()
	m.notify(tr)
	return true
}

// TriggerDefensive enters DEFENSIVE from any state. Only Resolve leaves it.
func (m *Machine) TriggerDefensive(cause string) error {
	now := m.now()
	m.mu.Lock()
	if m.snap.State == domain.StateDefensive {
		m.mu.Unlock()
		return fmt.Errorf("whale: already %s: %w", domain.StateDefensive, domain.ErrInvalidTransition)
	}
	tr := m.applyLocked(domain.StateDefensive, cause, now, nil)
	m.mu.Unlock()
	m.notify(tr)
	return nil
}

// Resolve clears DEFENSIVE back to PATIENT.
func (m *Machine) Resolve(cause string) error {
	return m.transition(domain.StateDefensive, domain.StatePatient, cause)
}

// BeginStrike marks an execution in progress. It requires a live hunt.
func (m *Machine) BeginStrike(cause string) error {
	now := m.now()
	m.mu.Lock()
	if !m.snap.HuntActive(now) {
		state := m.snap.State
		m.mu.Unlock()
		return fmt.Errorf("whale: strike from %s: %w", state, domain.ErrInvalidTransition)
	}
	tr := m.applyLocked(domain.StateStrike, cause, now, nil)
	m.mu.Unlock()
	m.notify(tr)
	return nil
}

// EndStrike clears the execution marker, returning to HUNTING while the hunt
// window is still open and to PATIENT otherwise.
func (m *Machine) EndStrike(cause string) error {
	now := m.now()
	m.mu.Lock()
	if m.snap.State != domain.StateStrike {
		state := m.snap.State
		m.mu.Unlock()
		return fmt.Errorf("whale: end strike from %s: %w", state, domain.ErrInvalidTransition)
	}
	to := domain.StatePatient
	if !now.After(m.snap.HuntExpiresAt) {
		to = domain.StateHunting
	}
	tr := m.applyLocked(to, cause, now, nil)
	m.mu.Unlock()
	m.notify(tr)
	return nil
}

func (m *Machine) transition(from, to domain.SystemState, cause string) error {
	now := m.now()
	m.mu.Lock()
	if m.snap.State != from {
		state := m.snap.State
		m.mu.Unlock()
		return fmt.Errorf("whale: %s -> %s from %s: %w", from, to, state, domain.ErrInvalidTransition)
	}
	tr := m.applyLocked(to, cause, now, nil)
	m.mu.Unlock()
	m.notify(tr)
	return nil
}

// applyLocked commits a transition. mu must be held. The writing flag
// catches any path that mutates state without holding mu.
func (m *Machine) applyLocked(to domain.SystemState, cause string, now time.Time, mutate func(*domain.StateSnapshot)) transitionNotice {
	if !m.writing.CompareAndSwap(false, true) {
		panic(fmt.Errorf("whale: concurrent state writers: %w", domain.ErrInvariantViolation))
	}
	defer m.writing.Store(false)

	tr := domain.StateTransition{Timestamp: now, From: m.snap.State, To: to, Cause: cause}
	next := domain.StateSnapshot{
		State:      to,
		EnteredAt:  now,
		Cause:      cause,
		Confidence: m.snap.Confidence,
		Version:    m.snap.Version + 1,
	}
	if to == domain.StateStrike || to == domain.StateHunting {
		next.HuntExpiresAt = m.snap.HuntExpiresAt
	} else {
		next.Confidence = 0
	}
	if mutate != nil {
		mutate(&next)
	}
	m.snap = next

	m.history = append(m.history, tr)
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = append(m.history[:0], m.history[over:]...)
	}

	m.logger.Info("state transition",
		slog.String("from", string(tr.From)),
		slog.String("to", string(tr.To)),
		slog.String("cause", cause),
	)
	listeners := make([]TransitionFunc, len(m.listeners))
	copy(listeners, m.listeners)
	return transitionNotice{tr: tr, snap: next, listeners: listeners}
}

type transitionNotice struct {
	tr        domain.StateTransition
	snap      domain.StateSnapshot
	listeners []TransitionFunc
}

func (m *Machine) notify(n transitionNotice) {
	for _, fn := range n.listeners {
		fn(n.tr, n.snap)
	}
}

func (m *Machine) pruneDumpsLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.DumpValidity)
	kept := m.dumps[:0]
	for _, d := range m.dumps {
		if !d.OccurredAt.Before(cutoff) {
			kept = append(kept, d)
		}
	}
	m.dumps = kept
}

// Reset returns the machine to PATIENT with empty history and dumps.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = domain.StateSnapshot{
		State:     domain.StatePatient,
		EnteredAt: m.now(),
		Cause:     "reset",
		Version:   m.snap.Version + 1,
	}
	m.history = nil
	m.dumps = nil
}
