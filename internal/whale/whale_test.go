package whale

import (
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	whaleAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	otherAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	binanceAddr  = common.HexToAddress("0x28C6c06298d514Db089934071355E5743bf21d60")
	tokenAddr    = common.HexToAddress("0x6982508145454Ce325dDbE47a25d4ec3d2311933")
	routerAddr   = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	strangerAddr = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// tokens returns n whole tokens in 18-decimal raw units.
func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func transferCalldata(to common.Address, amount *big.Int) []byte {
	data := append([]byte{}, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	return append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
}
