package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account is a named holder of a DTL balance.
// Keyed by normalized (lower-case) address inside LedgerDocument.Accounts.
type Account struct {
	Address   string          `json:"address"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MintSender is the reserved sender of every mint UTXO. It is never an account.
const MintSender = "mint"

// NormalizeAddress trims and lower-cases an address. Addresses are
// case-insensitive everywhere in the ledger.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ValidAddress reports whether a normalized address can own an account.
func ValidAddress(address string) bool {
	return address != "" && address != MintSender
}
