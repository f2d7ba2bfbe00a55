package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/ledger"
	"dtl-ledger-indexer/internal/replication"
	"dtl-ledger-indexer/internal/storage"
	"dtl-ledger-indexer/internal/storage/memory"
)

const (
	addrA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	addrB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	addrC = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	store    *ledger.Store
	engine   *Engine
	primary  *memory.DocumentStore
	replicas []*memory.DocumentStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	primary := memory.NewDocumentStore("primary")
	var replicas []*memory.DocumentStore
	var stores []storage.DocumentStore
	for _, name := range []string{"validator1", "validator2", "validator3", "validator4"} {
		r := memory.NewDocumentStore(name)
		replicas = append(replicas, r)
		stores = append(stores, r)
	}
	store := ledger.New(ledger.Options{
		Fanout: replication.New(replication.Options{Primary: primary, Replicas: stores}),
	})
	return &fixture{
		store:    store,
		engine:   NewEngine(EngineOptions{Store: store}),
		primary:  primary,
		replicas: replicas,
	}
}

// snapshot returns the primary bytes, used to assert a rejected transfer
// left the document untouched.
func (f *fixture) snapshot(t *testing.T) []byte {
	t.Helper()
	data, err := f.primary.Read(context.Background())
	require.NoError(t, err)
	return data
}

func TestTransfer_Scenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.CreateAccount(ctx, addrA, dec("1000"), "")
	require.NoError(t, err)
	_, err = f.store.CreateAccount(ctx, addrB, dec("0"), "")
	require.NoError(t, err)

	res, err := f.engine.Transfer(ctx, Request{Sender: addrA, Receiver: addrB, Amount: dec("300")})
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.TxID)
	assert.Equal(t, "700", res.SenderBalance.String())
	assert.Equal(t, "300", res.ReceiverBalance.String())
	assert.False(t, res.ReceiverCreated)

	// Read-after-write without reload
	assert.Equal(t, "700", f.store.Balance(ctx, addrA).String())
	assert.Equal(t, "300", f.store.Balance(ctx, addrB).String())

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UTXOCount)
	assert.Equal(t, 1, stats.TransactionCount)
	assert.Equal(t, "1000", stats.TotalSupply.String())

	tx, err := f.store.Transaction(ctx, res.TxID)
	require.NoError(t, err)
	assert.Equal(t, "300", tx.Amount.String())
	assert.Equal(t, res.UTXOID, tx.UTXOID)
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.CreateAccount(ctx, addrA, dec("10"), "")
	require.NoError(t, err)
	before := f.snapshot(t)

	_, err = f.engine.Transfer(ctx, Request{Sender: addrA, Receiver: addrB, Amount: dec("50")})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var ibe *ledger.InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.Equal(t, "10", ibe.Available.String())
	assert.Equal(t, "50", ibe.Requested.String())

	assert.Equal(t, before, f.snapshot(t), "document must be unchanged")
	assert.Equal(t, "10", f.store.Balance(ctx, addrA).String())

	_, err = f.store.Account(ctx, addrB)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound, "receiver must not be created")
}

func TestTransfer_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.CreateAccount(ctx, addrA, dec("100"), "")
	require.NoError(t, err)
	writes := f.primary.Writes()

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"zero amount", Request{Sender: addrA, Receiver: addrB, Amount: dec("0")}, ledger.ErrInvalidAmount},
		{"negative amount", Request{Sender: addrA, Receiver: addrB, Amount: dec("-1")}, ledger.ErrInvalidAmount},
		{"empty sender", Request{Sender: "", Receiver: addrB, Amount: dec("1")}, ledger.ErrInvalidAddress},
		{"mint as receiver", Request{Sender: addrA, Receiver: "mint", Amount: dec("1")}, ledger.ErrInvalidAddress},
		{"self transfer", Request{Sender: addrA, Receiver: "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", Amount: dec("1")}, ErrSelfTransfer},
		{"unknown sender", Request{Sender: addrC, Receiver: addrB, Amount: dec("1")}, ledger.ErrSenderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Transfer(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, writes, f.primary.Writes(), "rejected transfers must not save")
	_, err = f.engine.Transfer(ctx, Request{Sender: addrA, Receiver: addrB, Amount: dec("0")})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestTransfer_LazyReceiverAndCaseFolding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Mint(ctx, addrA, dec("5"), "")
	require.NoError(t, err)

	res, err := f.engine.Transfer(ctx, Request{
		Sender:        "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		Receiver:      " 0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB ",
		Amount:        dec("1.25"),
		ExternalTxRef: "0xdeadbeef",
		MetadataRef:   "QmMeta",
		TemplateID:    "tpl_x",
		TemplateRef:   "QmTpl",
	})
	require.NoError(t, err)
	assert.True(t, res.ReceiverCreated)
	assert.Equal(t, addrB, res.Receiver)

	acc, err := f.store.Account(ctx, addrB)
	require.NoError(t, err)
	assert.Equal(t, "1.25", acc.Balance.String())

	tx, err := f.store.Transaction(ctx, res.TxID)
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", tx.ExternalTxRef)
	assert.Equal(t, "QmMeta", tx.MetadataRef)
	assert.Equal(t, "tpl_x", tx.TemplateID)
	assert.Equal(t, "QmTpl", tx.TemplateRef)

	seen, err := f.store.HasExternalRef(ctx, "0xdeadbeef")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestTransfer_PairingAndConservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Mint(ctx, addrA, dec("100"), "")
	require.NoError(t, err)
	_, err = f.store.Mint(ctx, addrB, dec("50"), "")
	require.NoError(t, err)

	steps := []Request{
		{Sender: addrA, Receiver: addrB, Amount: dec("30")},
		{Sender: addrB, Receiver: addrC, Amount: dec("70.5")},
		{Sender: addrC, Receiver: addrA, Amount: dec("0.5")},
		{Sender: addrC, Receiver: addrA, Amount: dec("1000")}, // rejected
	}
	for _, req := range steps {
		_, _ = f.engine.Transfer(ctx, req)
	}

	doc, err := f.store.Load(ctx)
	require.NoError(t, err)

	minted := decimal.Zero
	byID := make(map[string]*domain.UTXO)
	for _, u := range doc.UTXOs {
		byID[u.ID] = u
		if u.IsMint() {
			minted = minted.Add(u.Amount)
		}
	}
	stats := doc.ComputeStats()
	assert.True(t, minted.Equal(stats.TotalSupply), "supply %s != minted %s", stats.TotalSupply, minted)

	require.Len(t, doc.Transactions, 3)
	var lastID int64
	for _, tx := range doc.Transactions {
		assert.Greater(t, tx.ID, lastID)
		lastID = tx.ID

		u, ok := byID[tx.UTXOID]
		require.True(t, ok)
		assert.Equal(t, tx.Sender, u.Sender)
		assert.Equal(t, tx.Receiver, u.Receiver)
		assert.True(t, tx.Amount.Equal(u.Amount))
		assert.Equal(t, domain.UTXOKindTransfer, u.Kind)
	}

	for _, acc := range doc.Accounts {
		assert.False(t, acc.Balance.IsNegative(), acc.Address)
	}
}

func TestTransfer_ConcurrentTransfersNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Mint(ctx, addrA, dec("10"), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Transfer(ctx, Request{Sender: addrA, Receiver: addrB, Amount: dec("1")})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.True(t, f.store.Balance(ctx, addrA).IsZero())
	assert.Equal(t, "10", f.store.Balance(ctx, addrB).String())
}

func TestTransfer_ReplicasByteIdentical(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Mint(ctx, addrA, dec("10"), "")
	require.NoError(t, err)
	_, err = f.engine.Transfer(ctx, Request{Sender: addrA, Receiver: addrB, Amount: dec("4")})
	require.NoError(t, err)

	want := f.snapshot(t)
	for _, r := range f.replicas {
		got, err := r.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got, r.Name())
	}
}

func TestTransfer_DuplicateExternalRef(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Mint(ctx, addrA, dec("10"), "")
	require.NoError(t, err)

	req := Request{Sender: addrA, Receiver: addrB, Amount: dec("1"), ExternalTxRef: "0xfeed"}
	_, err = f.engine.Transfer(ctx, req)
	require.NoError(t, err)

	_, err = f.engine.Transfer(ctx, req)
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)
	assert.Equal(t, "9", f.store.Balance(ctx, addrA).String())
}
