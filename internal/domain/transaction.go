package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the ledger-level record of one transfer.
// ID is strictly increasing, starting at 1. Every transaction references
// exactly one transfer UTXO through UTXOID.
type Transaction struct {
	ID                  int64           `json:"tx_id"`
	Sender              string          `json:"sender"`
	Receiver            string          `json:"receiver"`
	Amount              decimal.Decimal `json:"amount"`
	ExternalTxRef       string          `json:"tx_hash,omitempty"`
	MetadataRef         string          `json:"ipfs_cid,omitempty"`
	UTXOID              string          `json:"utxo_id"`
	TemplateID          string          `json:"template_id,omitempty"`
	TemplateRef         string          `json:"template_cid,omitempty"`
	TemplateSnapshotRef string          `json:"template_snapshot_cid,omitempty"`
	Status              string          `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
}

// TemplateLabelRef returns the content reference used to label the
// transaction, preferring the snapshot over the live template.
func (t *Transaction) TemplateLabelRef() string {
	if t.TemplateSnapshotRef != "" {
		return t.TemplateSnapshotRef
	}
	return t.TemplateRef
}
