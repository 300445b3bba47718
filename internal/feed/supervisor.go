// Package feed connects the engine to its event sources: the chain stream of
// token transfers and pending transactions, and the exchange order-book
// websocket. Each source is a prioritised list of redundant providers run by
// a Supervisor.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alanyoungcy/predator/internal/domain"
)

// Provider is one redundant connection to an event source. Stream dials,
// calls sess.Connected once live, delivers events until the connection
// drops or ctx ends, and returns the cause.
type Provider interface {
	Name() string
	Stream(ctx context.Context, sess *Session) error
}

// Session is handed to a Provider for one connection attempt.
type Session struct {
	sup       *Supervisor
	provider  string
	connected atomic.Bool
}

// Connected marks the attempt as live.
func (s *Session) Connected() {
	if s.connected.CompareAndSwap(false, true) {
		s.sup.onConnected(s.provider)
	}
}

// Event records that evidence arrived at t.
func (s *Session) Event(t time.Time) {
	s.sup.markEvent(t)
}

// SupervisorConfig configures reconnect behaviour.
type SupervisorConfig struct {
	Name         string
	BaseDelay    time.Duration // first backoff delay
	MaxDelay     time.Duration // backoff cap, also the wait once every provider is tripped
	MaxRetries   uint32        // consecutive failures that trip a provider's breaker
	BreakerReset time.Duration // how long a tripped provider is skipped
	StaleAfter   time.Duration // no events for this long marks the feed stale
}

// DefaultSupervisorConfig returns the stock reconnect parameters.
func DefaultSupervisorConfig(name string) SupervisorConfig {
	return SupervisorConfig{
		Name:         name,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		MaxRetries:   5,
		BreakerReset: 2 * time.Minute,
		StaleAfter:   10 * time.Minute,
	}
}

type supervised struct {
	p  Provider
	cb *gobreaker.CircuitBreaker
}

// Supervisor runs the first healthy provider in priority order, reconnecting
// with exponential backoff. A provider that fails MaxRetries times in a row
// is skipped for BreakerReset. When every provider is skipped the feed is
// reported failed and retried after MaxDelay.
type Supervisor struct {
	cfg       SupervisorConfig
	providers []supervised
	onHealth  func(domain.FeedHealth)
	now       func() time.Time
	logger    *slog.Logger

	mu        sync.Mutex
	health    domain.FeedHealth
	startedAt time.Time
}

// SupervisorOption customises a Supervisor.
type SupervisorOption func(*Supervisor)

// WithHealthHook registers fn for every connection state change.
func WithHealthHook(fn func(domain.FeedHealth)) SupervisorOption {
	return func(s *Supervisor) { s.onHealth = fn }
}

// WithSupervisorClock overrides the clock used for health timestamps.
func WithSupervisorClock(fn func() time.Time) SupervisorOption {
	return func(s *Supervisor) { s.now = fn }
}

// NewSupervisor creates a Supervisor over providers, highest priority first.
func NewSupervisor(cfg SupervisorConfig, providers []Provider, logger *slog.Logger, opts ...SupervisorOption) *Supervisor {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	s := &Supervisor{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "feed_supervisor"), slog.String("feed", cfg.Name)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, p := range providers {
		s.providers = append(s.providers, supervised{p: p, cb: s.newBreaker(p.Name())})
	}
	s.startedAt = s.now()
	s.health = domain.FeedHealth{Name: cfg.Name, State: domain.ConnStopped, UpdatedAt: s.startedAt}
	return s
}

func (s *Supervisor) newBreaker(name string) *gobreaker.CircuitBreaker {
	maxRetries := s.cfg.MaxRetries
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.cfg.Name + "/" + name,
		MaxRequests: 1,
		Timeout:     s.cfg.BreakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxRetries
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("provider breaker changed",
				slog.String("provider", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
}

// Run supervises the providers until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.providers) == 0 {
		return fmt.Errorf("feed: %s: no providers: %w", s.cfg.Name, domain.ErrSourceUnavailable)
	}
	s.mu.Lock()
	s.startedAt = s.now()
	s.mu.Unlock()

	delay := s.cfg.BaseDelay
	for {
		if ctx.Err() != nil {
			s.setState(domain.ConnStopped, "", nil)
			return ctx.Err()
		}

		sp, ok := s.pick()
		if !ok {
			s.setState(domain.ConnFailed, "", domain.ErrSourceUnavailable)
			s.logger.Error("all providers exhausted, waiting before retry", slog.Duration("wait", s.cfg.MaxDelay))
			sleep(ctx, s.cfg.MaxDelay)
			continue
		}

		s.setState(domain.ConnConnecting, sp.p.Name(), nil)
		sess := &Session{sup: s, provider: sp.p.Name()}
		var streamErr error
		_, err := sp.cb.Execute(func() (any, error) {
			streamErr = sp.p.Stream(ctx, sess)
			if sess.connected.Load() {
				return nil, nil
			}
			if streamErr == nil {
				streamErr = domain.ErrSourceUnavailable
			}
			return nil, streamErr
		})
		if ctx.Err() != nil {
			continue
		}
		if sess.connected.Load() {
			delay = s.cfg.BaseDelay
			s.logger.Warn("provider disconnected", slog.String("provider", sp.p.Name()), slog.Any("error", streamErr))
			s.setState(domain.ConnBackoff, sp.p.Name(), streamErr)
			sleep(ctx, delay)
			continue
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			continue
		}

		s.setState(domain.ConnBackoff, sp.p.Name(), err)
		s.logger.Warn("provider connect failed",
			slog.String("provider", sp.p.Name()),
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)
		sleep(ctx, delay)
		delay = min(delay*2, s.cfg.MaxDelay)
	}
}

// pick returns the highest-priority provider whose breaker admits a call.
func (s *Supervisor) pick() (supervised, bool) {
	for _, sp := range s.providers {
		if sp.cb.State() != gobreaker.StateOpen {
			return sp, true
		}
	}
	return supervised{}, false
}

func (s *Supervisor) onConnected(provider string) {
	s.mu.Lock()
	s.health.Attempts = 0
	s.mu.Unlock()
	s.setState(domain.ConnConnected, provider, nil)
	s.logger.Info("provider connected", slog.String("provider", provider))
}

func (s *Supervisor) markEvent(t time.Time) {
	s.mu.Lock()
	if t.After(s.health.LastEventAt) {
		s.health.LastEventAt = t
	}
	s.mu.Unlock()
}

func (s *Supervisor) setState(state domain.ConnState, provider string, err error) {
	s.mu.Lock()
	changed := s.health.State != state || (provider != "" && s.health.Provider != provider)
	s.health.State = state
	if provider != "" {
		s.health.Provider = provider
	}
	switch state {
	case domain.ConnBackoff:
		s.health.Attempts++
	case domain.ConnConnected:
		s.health.LastError = ""
	}
	if err != nil {
		s.health.LastError = err.Error()
	}
	s.health.UpdatedAt = s.now()
	h := s.healthLocked()
	s.mu.Unlock()

	if changed && s.onHealth != nil {
		s.onHealth(h)
	}
}

// Health returns the current feed health.
func (s *Supervisor) Health() domain.FeedHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthLocked()
}

func (s *Supervisor) healthLocked() domain.FeedHealth {
	h := s.health
	ref := h.LastEventAt
	if ref.IsZero() {
		ref = s.startedAt
	}
	h.Stale = s.cfg.StaleAfter > 0 && s.now().Sub(ref) > s.cfg.StaleAfter
	return h
}

// sleep waits d or until ctx ends. It reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
