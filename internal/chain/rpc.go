// Package chain reads ERC-20 Transfer events and new block heads from an
// Ethereum-compatible node (Besu) over JSON-RPC.
package chain

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
const TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// ZeroAddress is the sender of minted tokens.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// TokenDecimals is the number of decimals of the token contract.
const TokenDecimals = 18

// RPCClient is the node API used by the ingestion listener.
type RPCClient interface {
	// BlockNumber returns the latest block number.
	BlockNumber(ctx context.Context) (uint64, error)

	// GetTransferLogs returns Transfer events of token in [from, to], in
	// block and log order.
	GetTransferLogs(ctx context.Context, token string, from, to uint64) ([]TransferLog, error)
}

// TransferLog is a decoded ERC-20 Transfer event.
type TransferLog struct {
	TxHash   string
	Block    uint64
	LogIndex uint64
	From     string          // lowercase hex address
	To       string          // lowercase hex address
	Value    decimal.Decimal // token units, scaled by TokenDecimals
}

// IsMint reports whether the transfer created new supply.
func (l TransferLog) IsMint() bool {
	return l.From == ZeroAddress
}

// Head is a new block header notification.
type Head struct {
	Number uint64
	Hash   string
}

// HeadSubscriber delivers new block heads.
type HeadSubscriber interface {
	SubscribeNewHeads(ctx context.Context) (<-chan Head, error)
	Close() error
}
