package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransactionEvent is a mined token transfer of the watched contract.
type TransactionEvent struct {
	Hash          string         `json:"hash"`
	From          common.Address `json:"from"`
	To            common.Address `json:"to"`
	Value         *big.Int       `json:"value"` // raw token units
	TokenDecimals uint8          `json:"token_decimals"`
	Timestamp     time.Time      `json:"timestamp"`
}

// PendingTransactionEvent is a transaction observed in the mempool.
type PendingTransactionEvent struct {
	Hash      string         `json:"hash"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Value     *big.Int       `json:"value"` // native wei
	Data      []byte         `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// IntentType classifies what a whale transaction is likely preparing.
type IntentType string

const (
	IntentExchangeDeposit IntentType = "EXCHANGE_DEPOSIT"
	IntentLargeTransfer   IntentType = "LARGE_TRANSFER"
	IntentDexSwap         IntentType = "DEX_SWAP"
)

// ThreatLevel grades how market-moving a whale intent is.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// WhaleIntentEvent is the classified form of a relevant whale transaction.
// ThreatLevel is a pure function of IntentType and EstimatedValue.
type WhaleIntentEvent struct {
	ID               string        `json:"id"`
	WhaleAddress     string        `json:"whale_address"`
	TxHash           string        `json:"tx_hash"`
	IntentType       IntentType    `json:"intent_type"`
	TokenAmount      float64       `json:"token_amount"`
	EstimatedValue   float64       `json:"estimated_value"` // USD
	TargetExchange   string        `json:"target_exchange,omitempty"`
	Confidence       float64       `json:"confidence"`
	DetectionLatency time.Duration `json:"detection_latency"`
	ThreatLevel      ThreatLevel   `json:"threat_level"`
	Pending          bool          `json:"pending"`
	OccurredAt       time.Time     `json:"occurred_at"`
	DetectedAt       time.Time     `json:"detected_at"`
}
