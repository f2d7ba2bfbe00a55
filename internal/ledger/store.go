// Package ledger owns the ledger document: serialized load-mutate-save under
// a single process-wide lock, with every save fanned out to the validators.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/idhash"
	"dtl-ledger-indexer/internal/observability"
	"dtl-ledger-indexer/internal/replication"
	"dtl-ledger-indexer/internal/storage"
)

// MintReasonInitialBalance is recorded on the mint UTXO emitted when an
// account is created with a positive initial balance.
const MintReasonInitialBalance = "initial balance"

// MintReasonManual is the default reason of an operator mint.
const MintReasonManual = "manual mint"

// quarantiner is implemented by document stores that can set aside an
// unreadable document before it is overwritten.
type quarantiner interface {
	Quarantine(suffix string) (string, error)
}

// Store is the ledger store. Mutations are serialized by mu; reads load the
// primary document without locking (document writes are atomic).
type Store struct {
	fanout   *replication.Fanout
	currency string
	names    domain.NameRegistry
	clock    func() time.Time
	logger   *log.Logger
	metrics  *observability.Metrics

	mu sync.Mutex
}

// Options configures a Store.
type Options struct {
	Fanout   *replication.Fanout
	Currency string
	Names    domain.NameRegistry
	Clock    func() time.Time
	Logger   *log.Logger
	Metrics  *observability.Metrics
}

// New creates a ledger store.
func New(opts Options) *Store {
	currency := opts.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	names := opts.Names
	if names == nil {
		names = domain.NameRegistry(domain.DefaultNames)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		fanout:   opts.Fanout,
		currency: currency,
		names:    names,
		clock:    clock,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// Currency returns the ledger currency code.
func (s *Store) Currency() string {
	return s.currency
}

// Now returns the store clock reading in UTC.
func (s *Store) Now() time.Time {
	return s.clock().UTC()
}

// DisplayName resolves the registry name of address.
func (s *Store) DisplayName(address string) string {
	return s.names.DisplayName(address)
}

// Load reads the primary document. A missing or malformed document yields a
// fresh empty document; malformed ones are logged, counted and quarantined
// when the backend supports it. Other read errors are returned.
func (s *Store) Load(ctx context.Context) (*domain.LedgerDocument, error) {
	data, err := s.fanout.Read(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NewLedgerDocument(s.currency, s.Now()), nil
		}
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	doc, err := Decode(data, s.currency, s.Now())
	if err != nil {
		s.metrics.RecordCorruptLoad()
		s.logger.Printf("CORRUPT LEDGER: primary %s unreadable (%v); starting from an empty document",
			s.fanout.Primary().Name(), err)
		if q, ok := s.fanout.Primary().(quarantiner); ok {
			if moved, qerr := q.Quarantine(strconv.FormatInt(s.Now().Unix(), 10)); qerr == nil {
				s.logger.Printf("corrupt ledger preserved at %s", moved)
			} else {
				s.logger.Printf("quarantine failed: %v", qerr)
			}
		}
		return domain.NewLedgerDocument(s.currency, s.Now()), nil
	}
	return doc, nil
}

// Update runs fn on a freshly loaded document under the mutation lock and
// saves the result to the primary and all replicas. If fn returns an error
// the document is not saved.
func (s *Store) Update(ctx context.Context, fn func(doc *domain.LedgerDocument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(ctx, doc)
}

// save must be called with mu held.
func (s *Store) save(ctx context.Context, doc *domain.LedgerDocument) error {
	start := time.Now()

	data, err := Encode(doc)
	if err != nil {
		return err
	}
	if err := s.fanout.Write(ctx, data); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}

	stats := doc.ComputeStats()
	supply, _ := stats.TotalSupply.Float64()
	s.metrics.RecordSave(time.Since(start).Seconds(), stats.UTXOCount, supply)
	return nil
}

// CreateAccount creates an account. A positive initial balance is recorded as
// a mint UTXO so total supply always equals the sum of mint UTXOs.
func (s *Store) CreateAccount(ctx context.Context, address string, initial decimal.Decimal, name string) (*domain.Account, error) {
	addr := domain.NormalizeAddress(address)
	if !domain.ValidAddress(addr) {
		return nil, ErrInvalidAddress
	}
	if initial.IsNegative() {
		return nil, ErrInvalidAmount
	}

	var created domain.Account
	err := s.Update(ctx, func(doc *domain.LedgerDocument) error {
		if _, ok := doc.Accounts[addr]; ok {
			return fmt.Errorf("account %s: %w", addr, ErrAlreadyExists)
		}
		now := s.Now()
		if name == "" {
			name = s.names.DisplayName(addr)
		}
		acc := &domain.Account{
			Address:   addr,
			Name:      name,
			Balance:   initial,
			CreatedAt: now,
			UpdatedAt: now,
		}
		doc.Accounts[addr] = acc
		if initial.IsPositive() {
			doc.UTXOs = append(doc.UTXOs, newMintUTXO(addr, initial, MintReasonInitialBalance, now))
		}
		created = *acc
		return nil
	})
	s.metrics.RecordMutation("create_account", err)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// MintResult describes a successful mint.
type MintResult struct {
	UTXOID         string          `json:"utxo_id"`
	Receiver       string          `json:"receiver"`
	Amount         decimal.Decimal `json:"amount"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	AccountCreated bool            `json:"account_created"`
}

// Mint credits amount of new supply to receiver, creating the account if absent.
func (s *Store) Mint(ctx context.Context, receiver string, amount decimal.Decimal, reason string) (*MintResult, error) {
	return s.MintWithRef(ctx, receiver, amount, reason, "")
}

// MintWithRef is Mint for supply observed elsewhere, such as a token mint
// on chain. A non-empty externalRef already present in the ledger is
// rejected with ErrAlreadyExists.
func (s *Store) MintWithRef(ctx context.Context, receiver string, amount decimal.Decimal, reason, externalRef string) (*MintResult, error) {
	addr := domain.NormalizeAddress(receiver)
	if !domain.ValidAddress(addr) {
		return nil, ErrInvalidAddress
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result MintResult
	err := s.Update(ctx, func(doc *domain.LedgerDocument) error {
		if doc.HasExternalRef(externalRef) {
			return fmt.Errorf("external ref %s: %w", externalRef, ErrAlreadyExists)
		}
		now := s.Now()
		acc, created := s.EnsureAccount(doc, addr, now)
		acc.Balance = acc.Balance.Add(amount)
		acc.UpdatedAt = now

		utxo := newMintUTXO(addr, amount, reason, now)
		utxo.ExternalTxRef = externalRef
		doc.UTXOs = append(doc.UTXOs, utxo)

		result = MintResult{
			UTXOID:         utxo.ID,
			Receiver:       addr,
			Amount:         amount,
			NewBalance:     acc.Balance,
			AccountCreated: created,
		}
		return nil
	})
	s.metrics.RecordMutation("mint", err)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// EnsureAccount returns the account for a normalized address, creating it
// with a zero balance if absent. Must be called inside Update.
func (s *Store) EnsureAccount(doc *domain.LedgerDocument, addr string, now time.Time) (*domain.Account, bool) {
	if acc, ok := doc.Accounts[addr]; ok {
		return acc, false
	}
	acc := &domain.Account{
		Address:   addr,
		Name:      s.names.DisplayName(addr),
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.Accounts[addr] = acc
	return acc, true
}

func newMintUTXO(receiver string, amount decimal.Decimal, reason string, now time.Time) *domain.UTXO {
	return &domain.UTXO{
		ID:        idhash.NewUTXOID(),
		Sender:    domain.MintSender,
		Receiver:  receiver,
		Amount:    amount,
		Timestamp: now,
		Status:    domain.StatusConfirmed,
		Kind:      domain.UTXOKindMint,
		Reason:    reason,
	}
}

// Reset removes the primary and every replica document.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.fanout.Remove(ctx)
	s.metrics.RecordMutation("reset", err)
	if err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	s.logger.Println("ledger reset: primary and all validator documents removed")
	return nil
}

// Resync rewrites every replica from the primary document.
func (s *Store) Resync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fanout.Resync(ctx)
}

// Validators returns the configured replica names.
func (s *Store) Validators() []string {
	return s.fanout.Names()
}

// ReplicaHealth returns the last write outcome of every replica.
func (s *Store) ReplicaHealth() []replication.ReplicaStatus {
	return s.fanout.Health()
}

// ReplicaDigests returns the document digest of the primary and each replica.
func (s *Store) ReplicaDigests(ctx context.Context) (map[string]string, error) {
	return s.fanout.Digests(ctx)
}

// ValidatorView reads the named replica in isolation. Missing or malformed
// replica documents yield a fresh empty document, like Load.
func (s *Store) ValidatorView(ctx context.Context, name string) (*domain.LedgerDocument, error) {
	data, err := s.fanout.View(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NewLedgerDocument(s.currency, s.Now()), nil
		}
		return nil, err
	}
	doc, err := Decode(data, s.currency, s.Now())
	if err != nil {
		s.logger.Printf("validator %s document unreadable (%v); reporting empty view", name, err)
		return domain.NewLedgerDocument(s.currency, s.Now()), nil
	}
	return doc, nil
}
