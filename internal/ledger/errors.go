package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"dtl-ledger-indexer/internal/storage"
)

// Error kinds. Callers match with errors.Is; every specific error wraps its kind.
var (
	// ErrValidation is the kind of all input validation failures.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is the kind of all missing-record failures.
	ErrNotFound = storage.ErrNotFound

	ErrInvalidAmount       = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInvalidAddress      = fmt.Errorf("%w: invalid address", ErrValidation)
	ErrAccountNotFound     = fmt.Errorf("account %w", ErrNotFound)
	ErrSenderNotFound      = fmt.Errorf("sender account %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	ErrTemplateNotFound    = fmt.Errorf("template %w", ErrNotFound)

	ErrAlreadyExists       = errors.New("already exists")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrAlreadyDeleted      = errors.New("already deleted")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrCorruptDocument marks a primary or replica document that failed to
	// parse. Load recovers from it; it is only surfaced by Decode.
	ErrCorruptDocument = errors.New("corrupt ledger document")
)

// InsufficientBalanceError reports the available and requested amounts of a
// rejected transfer. It matches ErrInsufficientBalance with errors.Is.
type InsufficientBalanceError struct {
	Address   string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.Address, e.Available.String(), e.Requested.String())
}

// Unwrap returns ErrInsufficientBalance.
func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
