package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/ledger"
	"dtl-ledger-indexer/internal/replication"
	"dtl-ledger-indexer/internal/storage"
	"dtl-ledger-indexer/internal/storage/memory"
	"dtl-ledger-indexer/internal/template"
	"dtl-ledger-indexer/internal/transfer"
)

const (
	addrA = "0xba00000000000000000000000000000000000001"
	addrB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type fixture struct {
	store     *ledger.Store
	engine    *transfer.Engine
	templates *template.Service
	content   *memory.ContentStore
	sink      *memory.ProjectionSink
	loop      *Loop
}

func newFixture(t *testing.T, sinks ...storage.ProjectionSink) *fixture {
	t.Helper()
	store := ledger.New(ledger.Options{
		Fanout: replication.New(replication.Options{Primary: memory.NewDocumentStore("primary")}),
		Names:  domain.NameRegistry{addrA: "Alice"},
	})
	content := memory.NewContentStore()
	templates := template.NewService(template.Options{Store: store, Content: content})
	sink := memory.NewProjectionSink()

	loop, err := New(Options{
		Store:      store,
		Sinks:      append([]storage.ProjectionSink{sink}, sinks...),
		Labels:     templates,
		Interval:   10 * time.Millisecond,
		RetryDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = loop.Close() })

	return &fixture{
		store:     store,
		engine:    transfer.NewEngine(transfer.EngineOptions{Store: store}),
		templates: templates,
		content:   content,
		sink:      sink,
		loop:      loop,
	}
}

func (f *fixture) transfer(t *testing.T, req transfer.Request) *transfer.Result {
	t.Helper()
	res, err := f.engine.Transfer(context.Background(), req)
	require.NoError(t, err)
	return res
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCycle_SkipsHistoryAndMints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Mint(ctx, addrA, amount("100"), "")
	require.NoError(t, err)
	f.transfer(t, transfer.Request{Sender: addrA, Receiver: addrB, Amount: amount("1")})

	require.NoError(t, f.loop.Prime(ctx))
	assert.Equal(t, 2, f.loop.Cursor())

	n, err := f.loop.Cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "history is not replayed")

	_, err = f.store.Mint(ctx, addrB, amount("5"), "")
	require.NoError(t, err)
	first := f.transfer(t, transfer.Request{Sender: addrA, Receiver: addrB, Amount: amount("2")})
	second := f.transfer(t, transfer.Request{Sender: addrB, Receiver: addrA, Amount: amount("3"), ExternalTxRef: "0xabc"})

	n, err = f.loop.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 5, f.loop.Cursor())

	got := f.sink.All()
	require.Len(t, got, 2)
	assert.Equal(t, first.UTXOID, got[0].UTXOID, "oldest first")
	assert.Equal(t, 3, got[0].Sequence)
	assert.Equal(t, first.TxID, got[0].TxID)
	assert.Equal(t, "Alice", got[0].SenderName)
	assert.Equal(t, domain.UnknownName, got[0].ReceiverName)
	assert.Equal(t, "DTL", got[0].Currency)

	assert.Equal(t, second.UTXOID, got[1].UTXOID)
	assert.Equal(t, "0xabc", got[1].ExternalTxRef)
	assert.Equal(t, "3", got[1].Amount.String())
}

func TestCycle_SinkFailureRetriesBatch(t *testing.T) {
	ctx := context.Background()
	failing := memory.NewProjectionSink()
	f := newFixture(t, failing)

	_, err := f.store.Mint(ctx, addrA, amount("10"), "")
	require.NoError(t, err)
	require.NoError(t, f.loop.Prime(ctx))

	f.transfer(t, transfer.Request{Sender: addrA, Receiver: addrB, Amount: amount("1")})

	failing.FailAppends(errors.New("broker down"))
	_, err = f.loop.Cycle(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, f.loop.Cursor(), "cursor must not advance")

	failing.FailAppends(nil)
	n, err := f.loop.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.loop.Cursor())

	assert.Len(t, failing.All(), 1)
	assert.Len(t, f.sink.All(), 2, "at-least-once: first sink saw the batch twice")
}

func TestCycle_RewindsAfterReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Mint(ctx, addrA, amount("10"), "")
	require.NoError(t, err)
	f.transfer(t, transfer.Request{Sender: addrA, Receiver: addrB, Amount: amount("1")})
	require.NoError(t, f.loop.Prime(ctx))

	require.NoError(t, f.store.Reset(ctx))
	_, err = f.loop.Cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.loop.Cursor())

	_, err = f.store.Mint(ctx, addrA, amount("10"), "")
	require.NoError(t, err)
	f.transfer(t, transfer.Request{Sender: addrA, Receiver: addrB, Amount: amount("4")})

	n, err := f.loop.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "4", f.sink.All()[0].Amount.String())
}

func TestCycle_RewindsWhenResetLedgerOutgrowsCursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Mint(ctx, addrA, amount("10"), "")
	require.NoError(t, err)
	f.transfer(t, transfer.Request{Sender: addrA, Receiver: addrB, Amount: amount("1")})
	require.NoError(t, f.loop.Prime(ctx))
	require.Equal(t, 2, f.loop.Cursor())

	require.NoError(t, f.store.Reset(ctx))
	_, err = f.store.Mint(ctx, addrA, amount("50"), "")
	require.NoError(t, err)
	var want []string
	for _, a := range []string{"2", "3", "4"} {
		res := f.transfer(t, transfer.Request{Sender: addrA, Receiver: addrB, Amount: amount(a)})
		want = append(want, res.UTXOID)
	}

	n, err := f.loop.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "no transfer after the reset is skipped")
	assert.Equal(t, 4, f.loop.Cursor())

	var got []string
	for _, p := range f.sink.All() {
		got = append(got, p.UTXOID)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 1, f.sink.All()[0].Sequence)

	n, err = f.loop.Cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCycle_TemplateLabels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Mint(ctx, addrA, amount("100"), "")
	require.NoError(t, err)
	tpl, err := f.templates.Create(ctx, addrA, domain.TemplateFields{Name: "Rent", PayeeName: "Landlord"})
	require.NoError(t, err)
	require.NoError(t, f.loop.Prime(ctx))

	withTemplate := transfer.Request{
		Sender: addrA, Receiver: addrB, Amount: amount("1"),
		TemplateID: tpl.TemplateID, TemplateRef: tpl.ContentRef,
	}
	f.transfer(t, withTemplate)
	f.transfer(t, withTemplate)

	_, err = f.loop.Cycle(ctx)
	require.NoError(t, err)
	got := f.sink.All()
	require.Len(t, got, 2)
	assert.Equal(t, "Rent / Landlord", got[0].TemplateLabel)
	assert.Equal(t, "Rent / Landlord", got[1].TemplateLabel)
	assert.Equal(t, 1, f.content.Gets(), "second lookup is served from cache")

	// Unresolvable reference falls back to the template id.
	f.transfer(t, transfer.Request{
		Sender: addrA, Receiver: addrB, Amount: amount("1"),
		TemplateID: "tpl_unknown", TemplateRef: "QmUnknown",
	})
	_, err = f.loop.Cycle(ctx)
	require.NoError(t, err)
	got = f.sink.All()
	require.Len(t, got, 3)
	assert.Equal(t, "tpl_unknown", got[2].TemplateLabel)
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Mint(ctx, addrA, amount("10"), "")
	require.NoError(t, err)

	require.NoError(t, f.loop.Start(ctx))
	assert.ErrorIs(t, f.loop.Start(ctx), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return f.loop.Cursor() == 1 }, time.Second, 5*time.Millisecond)

	f.transfer(t, transfer.Request{Sender: addrA, Receiver: addrB, Amount: amount("1")})
	require.Eventually(t, func() bool { return len(f.sink.All()) == 1 }, time.Second, 5*time.Millisecond)

	f.loop.Stop()
	assert.Equal(t, StateIdle, f.loop.State())

	// Restart after stop is allowed.
	require.NoError(t, f.loop.Start(ctx))
	f.loop.Stop()
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "projecting", StateProjecting.String())
}
