package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"dtl-ledger-indexer/internal/domain"
)

// Account returns the account for address.
func (s *Store) Account(ctx context.Context, address string) (*domain.Account, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	acc, ok := doc.Accounts[domain.NormalizeAddress(address)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", address, ErrAccountNotFound)
	}
	return acc, nil
}

// Accounts returns all accounts ordered by address.
func (s *Store) Accounts(ctx context.Context) ([]*domain.Account, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Account, 0, len(doc.Accounts))
	for _, acc := range doc.Accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// Balance returns the balance of address, or zero if the account is absent
// or the ledger cannot be read. It never fails.
func (s *Store) Balance(ctx context.Context, address string) decimal.Decimal {
	doc, err := s.Load(ctx)
	if err != nil {
		s.logger.Printf("balance %s: %v", address, err)
		return decimal.Zero
	}
	if acc, ok := doc.Accounts[domain.NormalizeAddress(address)]; ok {
		return acc.Balance
	}
	return decimal.Zero
}

// Transaction returns the transaction with id.
func (s *Store) Transaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, tx := range doc.Transactions {
		if tx.ID == id {
			return tx, nil
		}
	}
	return nil, fmt.Errorf("%d: %w", id, ErrTransactionNotFound)
}

// TransactionsFor returns transactions where address is sender or receiver,
// newest first. limit <= 0 returns all.
func (s *Store) TransactionsFor(ctx context.Context, address string, limit int) ([]*domain.Transaction, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	addr := domain.NormalizeAddress(address)
	return newestFirst(doc.Transactions, limit, func(tx *domain.Transaction) bool {
		return tx.Sender == addr || tx.Receiver == addr
	}), nil
}

// Transactions returns all transactions, newest first.
func (s *Store) Transactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return newestFirst(doc.Transactions, limit, nil), nil
}

// UTXOsFor returns UTXOs where address is sender or receiver, newest first.
func (s *Store) UTXOsFor(ctx context.Context, address string, limit int) ([]*domain.UTXO, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	addr := domain.NormalizeAddress(address)
	return newestFirst(doc.UTXOs, limit, func(u *domain.UTXO) bool {
		return u.Sender == addr || u.Receiver == addr
	}), nil
}

// UTXOs returns all UTXOs, newest first.
func (s *Store) UTXOs(ctx context.Context, limit int) ([]*domain.UTXO, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return newestFirst(doc.UTXOs, limit, nil), nil
}

// HasExternalRef reports whether a UTXO or transaction already carries ref.
func (s *Store) HasExternalRef(ctx context.Context, ref string) (bool, error) {
	if ref == "" {
		return false, nil
	}
	doc, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	return doc.HasExternalRef(ref), nil
}

// Template returns the raw index entry for id, including soft-deleted ones.
func (s *Store) Template(ctx context.Context, id string) (*domain.Template, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	tpl, ok := doc.TemplatesIndex[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrTemplateNotFound)
	}
	return tpl, nil
}

// Stats summarizes the primary document.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	return doc.ComputeStats(), nil
}

// newestFirst walks items from the end (latest appended) and keeps those
// matching keep, up to limit.
func newestFirst[T any](items []T, limit int, keep func(T) bool) []T {
	out := make([]T, 0)
	for i := len(items) - 1; i >= 0; i-- {
		if keep != nil && !keep(items[i]) {
			continue
		}
		out = append(out, items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
