// Package reporting renders per-validator ledger reports.
package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/verification"
)

// Report is the view of one validator replica at GeneratedAt.
type Report struct {
	GeneratedAt time.Time
	Validator   string
	Currency    string

	Stats domain.Stats

	// Accounts sorted by balance descending, then address.
	Accounts []AccountRow

	// Newest first, at most the generator's transfer limit.
	RecentTransfers []TransferRow

	Verification *verification.DocumentReport
}

// AccountRow is one account line.
type AccountRow struct {
	Address   string
	Name      string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// TransferRow is one transaction line.
type TransferRow struct {
	TxID         int64
	Sender       string
	SenderName   string
	Receiver     string
	ReceiverName string
	Amount       decimal.Decimal
	UTXOID       string
	TemplateID   string
	CreatedAt    time.Time
}
