package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is the current ledger document schema.
const SchemaVersion = "2.0"

// DefaultCurrency is the ledger currency code.
const DefaultCurrency = "DTL"

// DocumentMetadata describes a ledger document.
type DocumentMetadata struct {
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version"`
	Currency  string    `json:"currency"`
}

// LedgerDocument is the complete persisted ledger state. The primary and
// every validator replica hold the same document.
type LedgerDocument struct {
	Accounts       map[string]*Account  `json:"accounts"`
	UTXOs          []*UTXO              `json:"utxos"`
	Transactions   []*Transaction       `json:"transactions"`
	TemplatesIndex map[string]*Template `json:"templates_index"`
	Metadata       DocumentMetadata     `json:"metadata"`
}

// NewLedgerDocument returns an empty document.
func NewLedgerDocument(currency string, now time.Time) *LedgerDocument {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &LedgerDocument{
		Accounts:       make(map[string]*Account),
		UTXOs:          []*UTXO{},
		Transactions:   []*Transaction{},
		TemplatesIndex: make(map[string]*Template),
		Metadata: DocumentMetadata{
			CreatedAt: now.UTC(),
			Version:   SchemaVersion,
			Currency:  currency,
		},
	}
}

// NextTxID returns max(tx_id)+1, or 1 for an empty ledger.
func (d *LedgerDocument) NextTxID() int64 {
	var maxID int64
	for _, tx := range d.Transactions {
		if tx.ID > maxID {
			maxID = tx.ID
		}
	}
	return maxID + 1
}

// TransactionByUTXO finds the transaction referencing a UTXO id.
func (d *LedgerDocument) TransactionByUTXO(utxoID string) *Transaction {
	for i := len(d.Transactions) - 1; i >= 0; i-- {
		if d.Transactions[i].UTXOID == utxoID {
			return d.Transactions[i]
		}
	}
	return nil
}

// HasExternalRef reports whether a transaction or UTXO carries ref.
// The empty ref is never present.
func (d *LedgerDocument) HasExternalRef(ref string) bool {
	if ref == "" {
		return false
	}
	for _, tx := range d.Transactions {
		if tx.ExternalTxRef == ref {
			return true
		}
	}
	for _, u := range d.UTXOs {
		if u.ExternalTxRef == ref {
			return true
		}
	}
	return false
}

// Stats is a summary of a ledger document.
type Stats struct {
	AccountCount     int             `json:"account_count"`
	UTXOCount        int             `json:"utxo_count"`
	TransactionCount int             `json:"transaction_count"`
	TemplateCount    int             `json:"template_count"`
	TotalSupply      decimal.Decimal `json:"total_supply"`
	Currency         string          `json:"currency"`
	Version          string          `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ComputeStats summarizes d. TotalSupply is the sum of all balances.
func (d *LedgerDocument) ComputeStats() Stats {
	total := decimal.Zero
	for _, acc := range d.Accounts {
		total = total.Add(acc.Balance)
	}
	active := 0
	for _, tpl := range d.TemplatesIndex {
		if tpl.Active() {
			active++
		}
	}
	return Stats{
		AccountCount:     len(d.Accounts),
		UTXOCount:        len(d.UTXOs),
		TransactionCount: len(d.Transactions),
		TemplateCount:    active,
		TotalSupply:      total,
		Currency:         d.Metadata.Currency,
		Version:          d.Metadata.Version,
		CreatedAt:        d.Metadata.CreatedAt,
	}
}
