// Package transfer executes balance-preserving transfers between accounts.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/idhash"
	"dtl-ledger-indexer/internal/ledger"
	"dtl-ledger-indexer/internal/observability"
)

// ErrSelfTransfer is returned when sender and receiver are the same account.
var ErrSelfTransfer = fmt.Errorf("%w: sender and receiver are the same account", ledger.ErrValidation)

// Request is a transfer request. References are optional.
type Request struct {
	Sender              string          `json:"sender"`
	Receiver            string          `json:"receiver"`
	Amount              decimal.Decimal `json:"amount"`
	ExternalTxRef       string          `json:"tx_hash,omitempty"`
	MetadataRef         string          `json:"ipfs_cid,omitempty"`
	TemplateID          string          `json:"template_id,omitempty"`
	TemplateRef         string          `json:"template_cid,omitempty"`
	TemplateSnapshotRef string          `json:"template_snapshot_cid,omitempty"`
}

// Result is a committed transfer.
type Result struct {
	TxID            int64           `json:"tx_id"`
	UTXOID          string          `json:"utxo_id"`
	Sender          string          `json:"sender"`
	Receiver        string          `json:"receiver"`
	Amount          decimal.Decimal `json:"amount"`
	SenderBalance   decimal.Decimal `json:"sender_balance"`
	ReceiverBalance decimal.Decimal `json:"receiver_balance"`
	ReceiverCreated bool            `json:"receiver_created"`
	Currency        string          `json:"currency"`
}

// Engine applies transfers through the ledger store.
type Engine struct {
	store   *ledger.Store
	logger  *log.Logger
	metrics *observability.Metrics
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Store   *ledger.Store
	Logger  *log.Logger
	Metrics *observability.Metrics
}

// NewEngine creates a transfer engine.
func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{store: opts.Store, logger: logger, metrics: opts.Metrics}
}

// Transfer moves req.Amount from sender to receiver as one ledger mutation.
// Validation happens before any change; a rejected transfer never saves.
func (e *Engine) Transfer(ctx context.Context, req Request) (*Result, error) {
	sender := domain.NormalizeAddress(req.Sender)
	receiver := domain.NormalizeAddress(req.Receiver)

	if err := validate(sender, receiver, req.Amount); err != nil {
		e.reject(err)
		return nil, err
	}

	var result Result
	err := e.store.Update(ctx, func(doc *domain.LedgerDocument) error {
		if doc.HasExternalRef(req.ExternalTxRef) {
			return fmt.Errorf("external ref %s: %w", req.ExternalTxRef, ledger.ErrAlreadyExists)
		}
		from, ok := doc.Accounts[sender]
		if !ok {
			return fmt.Errorf("%s: %w", sender, ledger.ErrSenderNotFound)
		}
		if from.Balance.LessThan(req.Amount) {
			return &ledger.InsufficientBalanceError{
				Address:   sender,
				Available: from.Balance,
				Requested: req.Amount,
			}
		}

		now := e.store.Now()
		to, created := e.store.EnsureAccount(doc, receiver, now)

		from.Balance = from.Balance.Sub(req.Amount)
		from.UpdatedAt = now
		to.Balance = to.Balance.Add(req.Amount)
		to.UpdatedAt = now

		utxo := &domain.UTXO{
			ID:            idhash.NewUTXOID(),
			Sender:        sender,
			Receiver:      receiver,
			Amount:        req.Amount,
			Timestamp:     now,
			Status:        domain.StatusConfirmed,
			Kind:          domain.UTXOKindTransfer,
			ExternalTxRef: req.ExternalTxRef,
		}
		tx := &domain.Transaction{
			ID:                  doc.NextTxID(),
			Sender:              sender,
			Receiver:            receiver,
			Amount:              req.Amount,
			ExternalTxRef:       req.ExternalTxRef,
			MetadataRef:         req.MetadataRef,
			UTXOID:              utxo.ID,
			TemplateID:          req.TemplateID,
			TemplateRef:         req.TemplateRef,
			TemplateSnapshotRef: req.TemplateSnapshotRef,
			Status:              domain.StatusConfirmed,
			CreatedAt:           now,
		}
		doc.UTXOs = append(doc.UTXOs, utxo)
		doc.Transactions = append(doc.Transactions, tx)

		result = Result{
			TxID:            tx.ID,
			UTXOID:          utxo.ID,
			Sender:          sender,
			Receiver:        receiver,
			Amount:          req.Amount,
			SenderBalance:   from.Balance,
			ReceiverBalance: to.Balance,
			ReceiverCreated: created,
			Currency:        doc.Metadata.Currency,
		}
		return nil
	})
	e.metrics.RecordMutation("transfer", err)
	if err != nil {
		e.reject(err)
		return nil, err
	}

	e.logger.Printf("transfer #%d %s -> %s: %s %s", result.TxID, sender, receiver,
		result.Amount.String(), result.Currency)
	return &result, nil
}

func validate(sender, receiver string, amount decimal.Decimal) error {
	if !domain.ValidAddress(sender) || !domain.ValidAddress(receiver) {
		return ledger.ErrInvalidAddress
	}
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	if sender == receiver {
		return ErrSelfTransfer
	}
	return nil
}

// reject records the rejection reason for metrics.
func (e *Engine) reject(err error) {
	reason := "other"
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		reason = "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidAddress):
		reason = "invalid_address"
	case errors.Is(err, ErrSelfTransfer):
		reason = "self_transfer"
	case errors.Is(err, ledger.ErrSenderNotFound):
		reason = "sender_not_found"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		reason = "insufficient_balance"
	case errors.Is(err, ledger.ErrAlreadyExists):
		reason = "duplicate"
	}
	e.metrics.RecordTransferRejection(reason)
}
