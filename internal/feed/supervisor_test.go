package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predator/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() SupervisorConfig {
	return SupervisorConfig{
		Name:         "test",
		BaseDelay:    time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		MaxRetries:   2,
		BreakerReset: time.Hour,
		StaleAfter:   10 * time.Minute,
	}
}

// fakeProvider fails its first failures calls, then connects. A connected
// stream emits one event and either drops or holds until cancelled.
type fakeProvider struct {
	name     string
	failures int32 // -1: always fail
	drops    int32 // connected streams that drop before holding
	calls    atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Stream(ctx context.Context, sess *Session) error {
	n := p.calls.Add(1)
	if p.failures < 0 || n <= p.failures {
		return errors.New("dial refused")
	}
	sess.Event(time.Now())
	sess.Connected()
	if n <= p.failures+p.drops {
		return errors.New("connection reset")
	}
	<-ctx.Done()
	return ctx.Err()
}

func runSupervisor(t *testing.T, s *Supervisor) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("supervisor did not stop")
		}
	}
}

func TestSupervisor_FailsOverInPriorityOrder(t *testing.T) {
	primary := &fakeProvider{name: "primary", failures: -1}
	backup := &fakeProvider{name: "backup"}
	s := NewSupervisor(fastConfig(), []Provider{primary, backup}, discardLogger())

	stop := runSupervisor(t, s)
	assert.Eventually(t, func() bool {
		h := s.Health()
		return h.State == domain.ConnConnected && h.Provider == "backup"
	}, 2*time.Second, time.Millisecond)
	stop()

	assert.Equal(t, int32(2), primary.calls.Load(), "primary tripped after MaxRetries")
	assert.Equal(t, domain.ConnStopped, s.Health().State)
}

func TestSupervisor_RetriesThenConnects(t *testing.T) {
	p := &fakeProvider{name: "only", failures: 1}
	cfg := fastConfig()
	cfg.MaxRetries = 5
	s := NewSupervisor(cfg, []Provider{p}, discardLogger())

	stop := runSupervisor(t, s)
	defer stop()
	assert.Eventually(t, func() bool { return s.Health().State == domain.ConnConnected }, 2*time.Second, time.Millisecond)
	h := s.Health()
	assert.Zero(t, h.Attempts)
	assert.Empty(t, h.LastError)
	assert.False(t, h.LastEventAt.IsZero())
}

func TestSupervisor_ReconnectsAfterDrop(t *testing.T) {
	p := &fakeProvider{name: "flaky", drops: 2}
	s := NewSupervisor(fastConfig(), []Provider{p}, discardLogger())

	stop := runSupervisor(t, s)
	defer stop()
	assert.Eventually(t, func() bool { return p.calls.Load() == 3 && s.Health().State == domain.ConnConnected },
		2*time.Second, time.Millisecond)
}

func TestSupervisor_AllProvidersExhausted(t *testing.T) {
	var mu sync.Mutex
	var states []domain.ConnState
	hook := func(h domain.FeedHealth) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, h.State)
	}
	s := NewSupervisor(fastConfig(), []Provider{
		&fakeProvider{name: "a", failures: -1},
		&fakeProvider{name: "b", failures: -1},
	}, discardLogger(), WithHealthHook(hook))

	stop := runSupervisor(t, s)
	defer stop()
	assert.Eventually(t, func() bool { return s.Health().State == domain.ConnFailed }, 2*time.Second, time.Millisecond)
	assert.False(t, s.Health().Usable())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, domain.ConnBackoff)
	assert.Contains(t, states, domain.ConnFailed)
}

func TestSupervisor_Staleness(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	s := NewSupervisor(fastConfig(), []Provider{&fakeProvider{name: "x"}}, discardLogger(), WithSupervisorClock(clock))
	assert.False(t, s.Health().Stale)

	advance(11 * time.Minute)
	assert.True(t, s.Health().Stale, "no evidence since start")

	sess := &Session{sup: s, provider: "x"}
	sess.Event(clock())
	assert.False(t, s.Health().Stale)

	advance(10*time.Minute + time.Second)
	assert.True(t, s.Health().Stale)
}

func TestSupervisor_NoProviders(t *testing.T) {
	s := NewSupervisor(fastConfig(), nil, discardLogger())
	require.ErrorIs(t, s.Run(context.Background()), domain.ErrSourceUnavailable)
}
