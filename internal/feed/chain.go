package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/predator/internal/domain"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// blockTimeCacheSize bounds the block-number -> timestamp cache.
const blockTimeCacheSize = 128

// ChainConfig configures one chain RPC provider.
type ChainConfig struct {
	Name          string
	URL           string // ws:// or wss:// endpoint supporting eth_subscribe
	Token         common.Address
	TokenDecimals uint8
	Pending       bool // also stream full pending transactions

	// PendingFilter, when set, is consulted before the sender of a pending
	// transaction is recovered. Transactions it rejects are skipped.
	PendingFilter func(to common.Address, value *big.Int, data []byte) bool
}

// TransferHandler receives decoded token transfers.
type TransferHandler func(domain.TransactionEvent)

// PendingHandler receives decoded mempool transactions.
type PendingHandler func(domain.PendingTransactionEvent)

// ChainProvider streams ERC-20 Transfer logs of the watched token and,
// optionally, full pending transactions over one RPC endpoint.
type ChainProvider struct {
	cfg       ChainConfig
	onTxfer   TransferHandler
	onPending PendingHandler
	logger    *slog.Logger
}

// NewChainProvider creates a ChainProvider.
func NewChainProvider(cfg ChainConfig, onTransfer TransferHandler, onPending PendingHandler, logger *slog.Logger) *ChainProvider {
	return &ChainProvider{
		cfg:       cfg,
		onTxfer:   onTransfer,
		onPending: onPending,
		logger:    logger.With(slog.String("component", "chain_feed"), slog.String("provider", cfg.Name)),
	}
}

// Name implements Provider.
func (p *ChainProvider) Name() string { return p.cfg.Name }

// Stream implements Provider.
func (p *ChainProvider) Stream(ctx context.Context, sess *Session) error {
	rc, err := rpc.DialContext(ctx, p.cfg.URL)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", p.cfg.Name, err)
	}
	defer rc.Close()
	ec := ethclient.NewClient(rc)

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("feed: chain id %s: %w", p.cfg.Name, err)
	}

	logs := make(chan types.Log, 256)
	logSub, err := ec.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{p.cfg.Token},
		Topics:    [][]common.Hash{{transferTopic}},
	}, logs)
	if err != nil {
		return fmt.Errorf("feed: subscribe logs %s: %w", p.cfg.Name, err)
	}
	defer logSub.Unsubscribe()

	var (
		pending    chan *types.Transaction
		pendingErr <-chan error
	)
	if p.cfg.Pending {
		pending = make(chan *types.Transaction, 1024)
		psub, err := gethclient.New(rc).SubscribeFullPendingTransactions(ctx, pending)
		if err != nil {
			return fmt.Errorf("feed: subscribe pending %s: %w", p.cfg.Name, err)
		}
		defer psub.Unsubscribe()
		pendingErr = psub.Err()
	}

	signer := types.LatestSignerForChainID(chainID)
	blockTimes := make(map[uint64]time.Time, blockTimeCacheSize)
	sess.Connected()
	p.logger.Info("chain stream live", slog.String("chain_id", chainID.String()), slog.Bool("pending", p.cfg.Pending))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-logSub.Err():
			return fmt.Errorf("feed: log subscription %s: %w: %v", p.cfg.Name, domain.ErrWSDisconnect, err)
		case err := <-pendingErr:
			return fmt.Errorf("feed: pending subscription %s: %w: %v", p.cfg.Name, domain.ErrWSDisconnect, err)
		case l := <-logs:
			if l.Removed {
				continue
			}
			ts := p.blockTime(ctx, ec, blockTimes, l.BlockNumber)
			ev, err := decodeTransferLog(l, p.cfg.TokenDecimals, ts)
			if err != nil {
				p.logger.Debug("log dropped", slog.String("tx", l.TxHash.Hex()), slog.String("error", err.Error()))
				continue
			}
			sess.Event(ts)
			if p.onTxfer != nil {
				p.onTxfer(ev)
			}
		case tx := <-pending:
			now := time.Now()
			if !p.wantsPending(tx) {
				sess.Event(now)
				continue
			}
			ev, err := pendingEvent(tx, signer, now)
			if err != nil {
				continue
			}
			sess.Event(ev.Timestamp)
			if p.onPending != nil {
				p.onPending(ev)
			}
		}
	}
}

// blockTime resolves a block's timestamp, falling back to now when the
// header lookup fails.
func (p *ChainProvider) blockTime(ctx context.Context, ec *ethclient.Client, cache map[uint64]time.Time, n uint64) time.Time {
	if t, ok := cache[n]; ok {
		return t
	}
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	h, err := ec.HeaderByNumber(hctx, new(big.Int).SetUint64(n))
	if err != nil {
		return time.Now().UTC()
	}
	if len(cache) >= blockTimeCacheSize {
		for k := range cache {
			delete(cache, k)
		}
	}
	t := time.Unix(int64(h.Time), 0).UTC()
	cache[n] = t
	return t
}

// decodeTransferLog converts an ERC-20 Transfer log.
func decodeTransferLog(l types.Log, decimals uint8, ts time.Time) (domain.TransactionEvent, error) {
	if len(l.Topics) != 3 || l.Topics[0] != transferTopic || len(l.Data) != 32 {
		return domain.TransactionEvent{}, fmt.Errorf("feed: not a transfer log: %w", domain.ErrMalformedTransaction)
	}
	return domain.TransactionEvent{
		Hash:          l.TxHash.Hex(),
		From:          common.BytesToAddress(l.Topics[1].Bytes()),
		To:            common.BytesToAddress(l.Topics[2].Bytes()),
		Value:         new(big.Int).SetBytes(l.Data),
		TokenDecimals: decimals,
		Timestamp:     ts,
	}, nil
}

// wantsPending applies the configured pre-recovery filter.
func (p *ChainProvider) wantsPending(tx *types.Transaction) bool {
	if tx == nil || tx.To() == nil {
		return false
	}
	if p.cfg.PendingFilter == nil {
		return true
	}
	return p.cfg.PendingFilter(*tx.To(), tx.Value(), tx.Data())
}

// pendingEvent converts a mempool transaction. Contract creations are
// skipped.
func pendingEvent(tx *types.Transaction, signer types.Signer, now time.Time) (domain.PendingTransactionEvent, error) {
	if tx == nil || tx.To() == nil {
		return domain.PendingTransactionEvent{}, fmt.Errorf("feed: no recipient: %w", domain.ErrMalformedTransaction)
	}
	from, err := types.Sender(signer, tx)
	if err != nil {
		return domain.PendingTransactionEvent{}, fmt.Errorf("feed: sender: %w", err)
	}
	return domain.PendingTransactionEvent{
		Hash:      tx.Hash().Hex(),
		From:      from,
		To:        *tx.To(),
		Value:     tx.Value(),
		Data:      tx.Data(),
		Timestamp: now.UTC(),
	}, nil
}
