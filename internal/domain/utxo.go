package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UTXOKind distinguishes supply creation from value movement.
type UTXOKind string

const (
	UTXOKindMint     UTXOKind = "mint"
	UTXOKindTransfer UTXOKind = "transfer"
)

// StatusConfirmed is the only status a committed UTXO or transaction carries.
const StatusConfirmed = "confirmed"

// UTXO is an immutable value-movement record. UTXOs are appended, never
// spent or removed (except by Reset).
type UTXO struct {
	ID            string          `json:"utxo_id"`
	Sender        string          `json:"sender"` // MintSender for mints
	Receiver      string          `json:"receiver"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        string          `json:"status"`
	Kind          UTXOKind        `json:"type"`
	Reason        string          `json:"reason,omitempty"`          // mint only
	ExternalTxRef string          `json:"external_tx_ref,omitempty"` // transfer only, optional
}

// IsMint reports whether the UTXO created supply.
func (u *UTXO) IsMint() bool {
	return u.Kind == UTXOKindMint
}
