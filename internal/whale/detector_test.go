package whale

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predator/internal/domain"
)

func newTestDetector(clock *fakeClock, mutate ...func(*DetectorConfig)) *Detector {
	cfg := DefaultDetectorConfig()
	cfg.Whales = []common.Address{whaleAddr}
	cfg.Exchanges = map[common.Address]string{binanceAddr: "binance"}
	cfg.Token = tokenAddr
	cfg.TokenPriceUSD = 1
	cfg.NativePriceUSD = 2_000
	for _, fn := range mutate {
		fn(&cfg)
	}
	return NewDetector(cfg, discardLogger(), WithDetectorClock(clock.Now))
}

func TestDetector_FiltersNonWhalesWithoutSideEffects(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))

	_, ok, err := d.HandleTransfer(domain.TransactionEvent{
		Hash: "0x01", From: strangerAddr, To: binanceAddr,
		Value: tokens(50_000_000), TokenDecimals: 18, Timestamp: t0,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	// Malformed but irrelevant: still just filtered.
	_, ok, err = d.HandlePending(domain.PendingTransactionEvent{From: strangerAddr, To: otherAddr})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 0, d.dedup.Len())
	st := d.Stats()
	assert.Equal(t, uint64(2), st.Filtered)
	assert.Equal(t, uint64(0), st.Emitted)
}

func TestDetector_ClassifiesTransfers(t *testing.T) {
	tests := []struct {
		name       string
		to         common.Address
		amount     int64
		wantOK     bool
		wantIntent domain.IntentType
		wantThreat domain.ThreatLevel
	}{
		{"deposit", binanceAddr, 5_000_000, true, domain.IntentExchangeDeposit, domain.ThreatHigh},
		{"small deposit", binanceAddr, 50_000, true, domain.IntentExchangeDeposit, domain.ThreatLow},
		{"large transfer", otherAddr, 20_000_000, true, domain.IntentLargeTransfer, domain.ThreatHigh},
		{"small transfer", otherAddr, 999_999, false, "", ""},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock(t0.Add(2 * time.Second))
			d := newTestDetector(clock)
			ev, ok, err := d.HandleTransfer(domain.TransactionEvent{
				Hash:          common.BigToHash(big.NewInt(int64(i + 1))).Hex(),
				From:          whaleAddr,
				To:            tt.to,
				Value:         tokens(tt.amount),
				TokenDecimals: 18,
				Timestamp:     t0,
			})
			require.NoError(t, err)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantIntent, ev.IntentType)
			assert.Equal(t, tt.wantThreat, ev.ThreatLevel)
			assert.InDelta(t, float64(tt.amount), ev.TokenAmount, 1e-6)
			assert.Equal(t, whaleAddr.Hex(), ev.WhaleAddress)
			assert.Equal(t, 2*time.Second, ev.DetectionLatency)
			assert.NotEmpty(t, ev.ID)
			assert.False(t, ev.Pending)
		})
	}
}

func TestDetector_DepositDetails(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))
	ev, ok, err := d.HandleTransfer(domain.TransactionEvent{
		Hash: "0xabc", From: whaleAddr, To: binanceAddr,
		Value: tokens(3_000_000), TokenDecimals: 18, Timestamp: t0,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "binance", ev.TargetExchange)
	assert.Equal(t, 0.9, ev.Confidence)
	assert.Equal(t, time.Duration(0), ev.DetectionLatency)
}

func TestDetector_PendingTokenTransferDecoded(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))
	ev, ok, err := d.HandlePending(domain.PendingTransactionEvent{
		Hash:      "0xPENDING",
		From:      whaleAddr,
		To:        tokenAddr,
		Value:     big.NewInt(0),
		Data:      transferCalldata(binanceAddr, tokens(12_000_000)),
		Timestamp: t0,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ev.Pending)
	assert.Equal(t, domain.IntentExchangeDeposit, ev.IntentType)
	assert.Equal(t, domain.ThreatCritical, ev.ThreatLevel)
	assert.InDelta(t, 12_000_000, ev.TokenAmount, 1e-6)

	// The mined sighting of the same transaction is a duplicate.
	_, ok, err = d.HandleTransfer(domain.TransactionEvent{
		Hash: "0xpending", From: whaleAddr, To: binanceAddr,
		Value: tokens(12_000_000), TokenDecimals: 18, Timestamp: t0,
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), d.Stats().Duplicates)
}

func TestDetector_PendingTransferToWhaleViaCalldata(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))
	// Sender is a stranger; the decoded recipient is the whale.
	ev, ok, err := d.HandlePending(domain.PendingTransactionEvent{
		Hash: "0x99", From: strangerAddr, To: tokenAddr,
		Data:      transferCalldata(whaleAddr, tokens(2_000_000)),
		Timestamp: t0,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.IntentLargeTransfer, ev.IntentType)
	assert.Equal(t, whaleAddr.Hex(), ev.WhaleAddress)
}

func TestDetector_PendingSwap(t *testing.T) {
	swap := domain.PendingTransactionEvent{
		Hash: "0x5a", From: whaleAddr, To: routerAddr,
		Value:     tokens(1_000), // 1000 native @ 2000
		Data:      []byte{0x38, 0xed, 0x17, 0x39, 0x00},
		Timestamp: t0,
	}

	d := newTestDetector(newFakeClock(t0))
	ev, ok, err := d.HandlePending(swap)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.IntentDexSwap, ev.IntentType)
	assert.Equal(t, 0.7, ev.Confidence)
	assert.InDelta(t, 2_000_000, ev.EstimatedValue, 1e-6)
	assert.Equal(t, domain.ThreatHigh, ev.ThreatLevel)

	restricted := newTestDetector(newFakeClock(t0), func(c *DetectorConfig) {
		c.DexRouters = []common.Address{otherAddr}
	})
	_, ok, err = restricted.HandlePending(swap)
	require.NoError(t, err)
	assert.False(t, ok, "calls to unknown contracts are not swaps when routers are configured")
}

func TestDetector_Malformed(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))
	_, ok, err := d.HandleTransfer(domain.TransactionEvent{Hash: "0x1", From: whaleAddr, To: binanceAddr, Timestamp: t0})
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrMalformedTransaction)

	_, ok, err = d.HandlePending(domain.PendingTransactionEvent{From: whaleAddr, To: binanceAddr, Timestamp: t0})
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrMalformedTransaction)
	assert.Equal(t, uint64(2), d.Stats().Malformed)
}

func TestDetector_LivePriceSource(t *testing.T) {
	price := 0.0
	cfg := DefaultDetectorConfig()
	cfg.Whales = []common.Address{whaleAddr}
	cfg.TokenPriceUSD = 0.5
	d := NewDetector(cfg, discardLogger(), WithPriceSource(func() float64 { return price }))

	ev := domain.TransactionEvent{Hash: "0x1", From: whaleAddr, To: otherAddr, Value: tokens(3_000_000), TokenDecimals: 18, Timestamp: t0}
	got, ok, err := d.HandleTransfer(ev)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1_500_000, got.EstimatedValue, 1e-6, "falls back to the static price")

	price = 0.1
	ev.Hash = "0x2"
	_, ok, err = d.HandleTransfer(ev)
	require.NoError(t, err)
	assert.False(t, ok, "$300k is below the large-transfer threshold")
}

func TestThreatFor(t *testing.T) {
	tests := []struct {
		intent domain.IntentType
		usd    float64
		want   domain.ThreatLevel
	}{
		{domain.IntentExchangeDeposit, 10_000_001, domain.ThreatCritical},
		{domain.IntentExchangeDeposit, 10_000_000, domain.ThreatHigh},
		{domain.IntentExchangeDeposit, 1_000_001, domain.ThreatHigh},
		{domain.IntentExchangeDeposit, 100_001, domain.ThreatMedium},
		{domain.IntentExchangeDeposit, 100_000, domain.ThreatLow},
		{domain.IntentLargeTransfer, 60_000_000, domain.ThreatCritical},
		{domain.IntentLargeTransfer, 5_000_000, domain.ThreatMedium},
		{domain.IntentDexSwap, 6_000_000, domain.ThreatCritical},
		{domain.IntentDexSwap, 300_000, domain.ThreatMedium},
		{"UNKNOWN", 1e12, domain.ThreatLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ThreatFor(tt.intent, tt.usd), "%s %v", tt.intent, tt.usd)
	}
}

func TestDecodeERC20Transfer(t *testing.T) {
	amount := tokens(42)
	to, got, ok := DecodeERC20Transfer(transferCalldata(binanceAddr, amount))
	require.True(t, ok)
	assert.Equal(t, binanceAddr, to)
	assert.Equal(t, 0, amount.Cmp(got))

	_, _, ok = DecodeERC20Transfer([]byte{0xa9, 0x05, 0x9c, 0xbb})
	assert.False(t, ok)

	bad := transferCalldata(binanceAddr, amount)
	bad[0] = 0x09
	_, _, ok = DecodeERC20Transfer(bad)
	assert.False(t, ok)
}

func TestDedup_EvictsOldestAndExpires(t *testing.T) {
	d := NewDedup(time.Minute, 2)
	assert.False(t, d.IsDuplicate("a", t0))
	assert.False(t, d.IsDuplicate("b", t0))
	assert.True(t, d.IsDuplicate("a", t0))
	assert.False(t, d.IsDuplicate("c", t0))
	assert.Equal(t, 2, d.Len())
	assert.False(t, d.IsDuplicate("a", t0), "a was evicted by capacity")

	assert.False(t, d.IsDuplicate("c", t0.Add(2*time.Minute)), "expired")
	assert.Equal(t, 1, d.Len())
}

func TestDetector_PendingCandidate(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))
	call := []byte{0x38, 0xed, 0x17, 0x39}

	assert.True(t, d.PendingCandidate(whaleAddr, nil, nil), "to whale")
	assert.True(t, d.PendingCandidate(binanceAddr, big.NewInt(1), nil), "to exchange")
	assert.True(t, d.PendingCandidate(tokenAddr, nil, transferCalldata(strangerAddr, tokens(1))), "token call")
	assert.True(t, d.PendingCandidate(routerAddr, nil, call), "any contract call without routers")
	assert.True(t, d.PendingCandidate(otherAddr, tokens(1_000), nil), "large native transfer")
	assert.False(t, d.PendingCandidate(otherAddr, tokens(1), nil), "small native transfer")

	restricted := newTestDetector(newFakeClock(t0), func(c *DetectorConfig) {
		c.DexRouters = []common.Address{routerAddr}
	})
	assert.True(t, restricted.PendingCandidate(routerAddr, nil, call))
	assert.False(t, restricted.PendingCandidate(otherAddr, nil, call))
	assert.Equal(t, uint64(0), restricted.Stats().Seen, "pre-checks do not count")
}

func TestDetector_PendingWatched(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))

	assert.True(t, d.PendingWatched(domain.PendingTransactionEvent{From: whaleAddr, To: otherAddr}))
	assert.True(t, d.PendingWatched(domain.PendingTransactionEvent{
		From: strangerAddr, To: tokenAddr, Data: transferCalldata(whaleAddr, tokens(5)),
	}), "token transfer to a whale")
	assert.False(t, d.PendingWatched(domain.PendingTransactionEvent{
		From: strangerAddr, To: tokenAddr, Data: transferCalldata(binanceAddr, tokens(5)),
	}))
	assert.True(t, d.Watches(strangerAddr, whaleAddr))
	assert.False(t, d.Watches(strangerAddr, binanceAddr))
}
