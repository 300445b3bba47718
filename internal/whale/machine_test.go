package whale

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predator/internal/domain"
)

func dump(hash string, amount float64, at time.Time) domain.WhaleIntentEvent {
	return domain.WhaleIntentEvent{
		ID:             hash,
		WhaleAddress:   whaleAddr.Hex(),
		TxHash:         hash,
		IntentType:     domain.IntentExchangeDeposit,
		TokenAmount:    amount,
		EstimatedValue: amount,
		TargetExchange: "binance",
		Confidence:     0.9,
		OccurredAt:     at,
	}
}

func newTestMachine(clock *fakeClock, mutate ...func(*MachineConfig)) *Machine {
	cfg := DefaultMachineConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	return NewMachine(cfg, discardLogger(), WithClock(clock.Now))
}

func TestMachine_StartsPatient(t *testing.T) {
	m := newTestMachine(newFakeClock(t0))
	snap := m.Snapshot()
	assert.Equal(t, domain.StatePatient, snap.State)
	assert.False(t, snap.HuntActive(t0))
	assert.Empty(t, m.History())
}

func TestMachine_HuntTrigger(t *testing.T) {
	clock := newFakeClock(t0)
	m := newTestMachine(clock)

	assert.False(t, m.OnWhaleIntent(dump("0x1", 2_999_999, t0)))
	transfer := dump("0x2", 50_000_000, t0)
	transfer.IntentType = domain.IntentLargeTransfer
	assert.False(t, m.OnWhaleIntent(transfer), "only exchange deposits trigger")
	assert.Equal(t, domain.StatePatient, m.Snapshot().State)

	require.True(t, m.OnWhaleIntent(dump("0x3", 3_000_000, t0)))
	snap := m.Snapshot()
	assert.Equal(t, domain.StateHunting, snap.State)
	assert.Equal(t, t0.Add(12*time.Hour), snap.HuntExpiresAt)
	assert.Equal(t, 0.9, snap.Confidence)
	assert.True(t, snap.HuntActive(t0))

	hist := m.History()
	require.Len(t, hist, 1)
	assert.Equal(t, domain.StatePatient, hist[0].From)
	assert.Equal(t, domain.StateHunting, hist[0].To)
	assert.Contains(t, hist[0].Cause, "0x3")
	assert.Len(t, m.RecentDumps(), 2)
}

func TestMachine_StaleDumpIgnored(t *testing.T) {
	clock := newFakeClock(t0.Add(7 * time.Hour))
	m := newTestMachine(clock)
	assert.False(t, m.OnWhaleIntent(dump("0x1", 10_000_000, t0)))
	assert.Equal(t, domain.StatePatient, m.Snapshot().State)
	assert.Empty(t, m.RecentDumps())
}

func TestMachine_DumpsSlideOutOfWindow(t *testing.T) {
	clock := newFakeClock(t0)
	m := newTestMachine(clock)
	m.OnWhaleIntent(dump("0x1", 1_000, t0))
	m.OnWhaleIntent(dump("0x2", 1_000, t0.Add(time.Hour)))
	clock.Advance(6*time.Hour + time.Minute)
	dumps := m.RecentDumps()
	require.Len(t, dumps, 1)
	assert.Equal(t, "0x2", dumps[0].TxHash)
}

func TestMachine_HuntExpires(t *testing.T) {
	clock := newFakeClock(t0)
	m := newTestMachine(clock)
	require.True(t, m.OnWhaleIntent(dump("0x1", 5_000_000, t0)))

	clock.Advance(12 * time.Hour)
	assert.False(t, m.Expire(), "exactly at the duration is still live")
	assert.Equal(t, domain.StateHunting, m.Snapshot().State)

	clock.Advance(time.Nanosecond)
	assert.False(t, m.Snapshot().HuntActive(clock.Now()), "readers see the elapsed hunt before Expire runs")
	assert.True(t, m.Expire())
	snap := m.Snapshot()
	assert.Equal(t, domain.StatePatient, snap.State)
	assert.Equal(t, "hunt expired", snap.Cause)
	assert.Equal(t, 0.0, snap.Confidence)
}

func TestMachine_RetriggerPolicy(t *testing.T) {
	for _, extend := range []bool{false, true} {
		t.Run(fmt.Sprintf("extend=%v", extend), func(t *testing.T) {
			clock := newFakeClock(t0)
			m := newTestMachine(clock, func(c *MachineConfig) { c.ExtendOnRetrigger = extend })
			require.True(t, m.OnWhaleIntent(dump("0x1", 5_000_000, t0)))

			clock.Advance(4 * time.Hour)
			assert.False(t, m.OnWhaleIntent(dump("0x2", 5_000_000, clock.Now())))

			want := t0.Add(12 * time.Hour)
			if extend {
				want = t0.Add(16 * time.Hour)
			}
			assert.Equal(t, want, m.Snapshot().HuntExpiresAt)
			assert.Len(t, m.History(), 1)
		})
	}
}

func TestMachine_DefensiveNeverAutoExits(t *testing.T) {
	clock := newFakeClock(t0)
	m := newTestMachine(clock)
	require.True(t, m.OnWhaleIntent(dump("0x1", 5_000_000, t0)))
	require.NoError(t, m.TriggerDefensive("reversal"))
	assert.ErrorIs(t, m.TriggerDefensive("again"), domain.ErrInvalidTransition)

	clock.Advance(48 * time.Hour)
	assert.False(t, m.Expire())
	assert.False(t, m.OnWhaleIntent(dump("0x2", 9_000_000, clock.Now())))
	assert.Equal(t, domain.StateDefensive, m.Snapshot().State)
	assert.False(t, m.Snapshot().HuntActive(clock.Now()))

	require.NoError(t, m.Resolve("operator"))
	assert.Equal(t, domain.StatePatient, m.Snapshot().State)
	assert.ErrorIs(t, m.Resolve("twice"), domain.ErrInvalidTransition)
}

func TestMachine_HuntingOnlyFromPatient(t *testing.T) {
	clock := newFakeClock(t0)
	m := newTestMachine(clock)
	require.NoError(t, m.TriggerDefensive("manual"))
	require.NoError(t, m.Resolve("cleared"))
	require.True(t, m.OnWhaleIntent(dump("0x1", 5_000_000, t0)))

	for _, tr := range m.History() {
		if tr.To == domain.StateHunting {
			assert.Equal(t, domain.StatePatient, tr.From)
		}
	}
}

func TestMachine_Strike(t *testing.T) {
	clock := newFakeClock(t0)
	m := newTestMachine(clock)
	assert.ErrorIs(t, m.BeginStrike("exec"), domain.ErrInvalidTransition)
	assert.ErrorIs(t, m.EndStrike("exec"), domain.ErrInvalidTransition)

	require.True(t, m.OnWhaleIntent(dump("0x1", 5_000_000, t0)))
	require.NoError(t, m.BeginStrike("order 1"))
	snap := m.Snapshot()
	assert.Equal(t, domain.StateStrike, snap.State)
	assert.False(t, snap.HuntActive(clock.Now()), "strike does not authorize new trades")
	assert.Equal(t, t0.Add(12*time.Hour), snap.HuntExpiresAt)

	require.NoError(t, m.EndStrike("filled"))
	assert.Equal(t, domain.StateHunting, m.Snapshot().State)

	require.NoError(t, m.BeginStrike("order 2"))
	clock.Advance(13 * time.Hour)
	assert.False(t, m.Expire(), "strike is not expired by the ticker")
	require.NoError(t, m.EndStrike("filled late"))
	assert.Equal(t, domain.StatePatient, m.Snapshot().State)
}

func TestMachine_HistoryBounded(t *testing.T) {
	clock := newFakeClock(t0)
	m := newTestMachine(clock, func(c *MachineConfig) { c.HistorySize = 3 })
	for i := 0; i < 3; i++ {
		require.NoError(t, m.TriggerDefensive(fmt.Sprintf("d%d", i)))
		require.NoError(t, m.Resolve(fmt.Sprintf("r%d", i)))
	}
	hist := m.History()
	require.Len(t, hist, 3)
	assert.Equal(t, "r1", hist[0].Cause)
	assert.Equal(t, "r2", hist[2].Cause)
	assert.Equal(t, uint64(6), m.Snapshot().Version)
}

func TestMachine_ListenersRunOutsideLock(t *testing.T) {
	clock := newFakeClock(t0)
	m := newTestMachine(clock)

	var got []domain.StateTransition
	m.OnTransition(func(tr domain.StateTransition, snap domain.StateSnapshot) {
		// Reading back must not deadlock.
		assert.Equal(t, snap, m.Snapshot())
		got = append(got, tr)
	})
	require.True(t, m.OnWhaleIntent(dump("0x1", 5_000_000, t0)))
	require.NoError(t, m.TriggerDefensive("manual"))

	require.Len(t, got, 2)
	assert.Equal(t, domain.StateHunting, got[0].To)
	assert.Equal(t, domain.StateDefensive, got[1].To)
}

func TestMachine_ConcurrentTriggersSerialize(t *testing.T) {
	clock := newFakeClock(t0)
	m := newTestMachine(clock)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.OnWhaleIntent(dump(fmt.Sprintf("0x%x", i), 5_000_000, t0))
			m.Expire()
			_ = m.Snapshot()
		}(i)
	}
	wg.Wait()

	hist := m.History()
	require.Len(t, hist, 1)
	assert.Equal(t, domain.StateHunting, m.Snapshot().State)
	assert.Equal(t, uint64(1), m.Snapshot().Version)
}
