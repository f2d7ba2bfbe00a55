package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Projection is one transfer UTXO as emitted by the reconciliation loop to
// its sinks, correlated with its transaction and template label.
type Projection struct {
	UTXOID        string          `json:"utxo_id"`
	Kind          UTXOKind        `json:"type"`
	Sender        string          `json:"sender"`
	Receiver      string          `json:"receiver"`
	SenderName    string          `json:"sender_name"`
	ReceiverName  string          `json:"receiver_name"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Timestamp     time.Time       `json:"timestamp"`
	TxID          int64           `json:"tx_id,omitempty"`
	ExternalTxRef string          `json:"tx_hash,omitempty"`
	TemplateID    string          `json:"template_id,omitempty"`
	TemplateLabel string          `json:"template_label,omitempty"`
	Sequence      int             `json:"sequence"` // position in the UTXO list
}
