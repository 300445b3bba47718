package feed

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predator/internal/domain"
)

func TestDecodeTransferLog(t *testing.T) {
	from := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	to := common.HexToAddress("0x28C6c06298d514Db089934071355E5743bf21d60")
	amount := new(big.Int).Mul(big.NewInt(3_000_000), big.NewInt(1e18))
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l := types.Log{
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:   common.LeftPadBytes(amount.Bytes(), 32),
		TxHash: common.HexToHash("0xbeef"),
	}
	ev, err := decodeTransferLog(l, 18, ts)
	require.NoError(t, err)
	assert.Equal(t, from, ev.From)
	assert.Equal(t, to, ev.To)
	assert.Equal(t, 0, amount.Cmp(ev.Value))
	assert.Equal(t, uint8(18), ev.TokenDecimals)
	assert.Equal(t, ts, ev.Timestamp)
	assert.Equal(t, l.TxHash.Hex(), ev.Hash)

	l.Topics = l.Topics[:2]
	_, err = decodeTransferLog(l, 18, ts)
	assert.ErrorIs(t, err, domain.ErrMalformedTransaction)
}

func TestTransferTopic(t *testing.T) {
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", transferTopic.Hex())
}

func TestPendingEvent(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chainID := big.NewInt(1)
	signer := types.LatestSignerForChainID(chainID)
	router := common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")

	tx, err := types.SignNewTx(key, signer, &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     7,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(100),
		Gas:       21_000,
		To:        &router,
		Value:     big.NewInt(42),
		Data:      []byte{0x01, 0x02},
	})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev, err := pendingEvent(tx, signer, now)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), ev.From)
	assert.Equal(t, router, ev.To)
	assert.Equal(t, int64(42), ev.Value.Int64())
	assert.Equal(t, []byte{0x01, 0x02}, ev.Data)
	assert.Equal(t, now, ev.Timestamp)

	creation, err := types.SignNewTx(key, signer, &types.DynamicFeeTx{ChainID: chainID, Gas: 100_000})
	require.NoError(t, err)
	_, err = pendingEvent(creation, signer, now)
	assert.ErrorIs(t, err, domain.ErrMalformedTransaction)
}

func TestWantsPendingAppliesFilter(t *testing.T) {
	router := common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	var calls int
	p := NewChainProvider(ChainConfig{
		Name: "test",
		PendingFilter: func(to common.Address, _ *big.Int, _ []byte) bool {
			calls++
			return to == router
		},
	}, nil, nil, discardLogger())

	assert.True(t, p.wantsPending(types.NewTx(&types.LegacyTx{To: &router, Data: []byte{0x01}})))
	assert.False(t, p.wantsPending(types.NewTx(&types.LegacyTx{To: &stranger, Data: []byte{0x01}})))
	assert.False(t, p.wantsPending(types.NewTx(&types.LegacyTx{Data: []byte{0x60}})), "contract creation")
	assert.Equal(t, 2, calls)

	open := NewChainProvider(ChainConfig{Name: "open"}, nil, nil, discardLogger())
	assert.True(t, open.wantsPending(types.NewTx(&types.LegacyTx{To: &stranger})))
}
