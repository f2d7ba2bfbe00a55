package sink

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/idhash"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func testProjection() *domain.Projection {
	return &domain.Projection{
		UTXOID:        "utxo_01jq0cz6h8e9qv7b0m2n3p4r5s",
		Kind:          domain.UTXOKindTransfer,
		Sender:        "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Receiver:      "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		SenderName:    "Alice",
		ReceiverName:  "Bob",
		Amount:        decimal.RequireFromString("300"),
		Currency:      "DTL",
		Timestamp:     fixedNow,
		TxID:          1,
		ExternalTxRef: "0x1234567890abcdef1234567890abcdef",
		TemplateLabel: "Rent / Landlord",
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestFormatTransferLine(t *testing.T) {
	p := testProjection()
	assert.Equal(t,
		"[2025-03-01 12:00:00] 0xaaaaaaaa... -> 0xbbbbbbbb...: 300 DTL (utxo: utxo_...0m2n3p4r5s) [template: Rent / Landlord]",
		FormatTransferLine("2025-03-01 12:00:00", p))

	p.TemplateLabel = ""
	p.Amount = decimal.RequireFromString("0.5")
	assert.Equal(t,
		"[2025-03-01 12:00:00] 0xaaaaaaaa... -> 0xbbbbbbbb...: 0.5 DTL (utxo: utxo_...0m2n3p4r5s)",
		FormatTransferLine("2025-03-01 12:00:00", p))
}

func TestFormatTransferLine_DistinctUTXOIDs(t *testing.T) {
	first := idhash.NewUTXOID()
	second := idhash.NewUTXOID()
	require.NotEqual(t, first, second)

	render := func(id string) string {
		p := testProjection()
		p.UTXOID = id
		return FormatTransferLine("2025-03-01 12:00:00", p)
	}
	assert.NotEqual(t, render(first), render(second))
	assert.Contains(t, render(first), "(utxo: utxo_..."+first[len(first)-10:]+")")
}

func TestShortUTXOID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"utxo_01jq0cz6h8e9qv7b0m2n3p4r5s", "utxo_...0m2n3p4r5s"},
		{"utxo_4f1d2a9be0c3d7e1", "utxo_4f1d2a9be0c3d7e1"},
		{"abcdefghijklmnopqrstuvwxyz", "...qrstuvwxyz"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shortUTXOID(tt.id), tt.id)
	}
}

func TestTransferLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", TransferLogFile)
	l, err := OpenTransferLog(path, clock)
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), []*domain.Projection{testProjection()}))
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 5)
	assert.Equal(t, "", lines[0])
	assert.Equal(t, banner, lines[1])
	assert.Equal(t, "[2025-03-01 12:00:00] SCHEDULER STARTED", lines[2])
	assert.Equal(t, banner, lines[3])
	assert.Contains(t, lines[4], "300 DTL (utxo: utxo_...0m2n3p4r5s)")
}

func TestUTXOLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), UTXOLogFile)
	l, err := OpenUTXOLog(path, clock)
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), []*domain.Projection{testProjection()}))

	lines := readLines(t, path)
	assert.Equal(t, "[2025-03-01T12:00:00Z] LEDGER - SESSION START", lines[2])
	assert.Equal(t,
		"[2025-03-01T12:00:00Z] UTXO: utxo_01jq0cz6h8e9qv7b0m2n3p4r5s | 0xaaaaaaaa... -> 0xbbbbbbbb... | 300 DTL",
		lines[len(lines)-1])
}

func TestValidatorLog(t *testing.T) {
	dir := t.TempDir()
	validators := []string{"validator1", "validator2"}

	l, err := OpenValidatorLogs(dir, validators, clock)
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), []*domain.Projection{testProjection()}))

	// Reopening must not repeat the header.
	l, err = OpenValidatorLogs(dir, validators, clock)
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), nil))

	for _, v := range validators {
		data, err := os.ReadFile(ValidatorLogPath(dir, v))
		require.NoError(t, err)
		text := string(data)

		assert.Equal(t, 1, strings.Count(text, "DTL Multi-Indexer - "+strings.ToUpper(v)+" Log"))
		assert.Contains(t, text, "[2025-03-01 12:00:00.000] [INFO] <<< INCOMING TRANSFER (synced)")
		assert.Contains(t, text, "tx_hash: 0x1234567890abcd...")
		assert.Contains(t, text, "from: 0xaaaaaaaa... (Alice)")
		assert.Contains(t, text, "amount: 300 DTL")
		assert.Contains(t, text, "template: Rent / Landlord")
	}
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	exchange  string
	failAfter int
	closed    bool
}

func (c *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.failAfter > 0 && len(c.published) >= c.failAfter {
		return errors.New("channel closed")
	}
	c.exchange = exchange
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQPPublisher(ch, DefaultExchange, clock)

	mint := testProjection()
	mint.Kind = domain.UTXOKindMint
	require.NoError(t, p.Append(context.Background(), []*domain.Projection{testProjection(), mint}))

	assert.Equal(t, DefaultExchange, ch.exchange)
	assert.Equal(t, []string{"utxo.transfer", "utxo.mint"}, ch.keys)

	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, fixedNow, msg.Timestamp)
	_, err := uuid.Parse(msg.MessageId)
	assert.NoError(t, err)

	var got domain.Projection
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, "300", got.Amount.String())
	assert.Equal(t, "Rent / Landlord", got.TemplateLabel)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestAMQPPublisher_StopsOnFailure(t *testing.T) {
	ch := &fakeChannel{failAfter: 1}
	p := newAMQPPublisher(ch, DefaultExchange, clock)

	err := p.Append(context.Background(), []*domain.Projection{testProjection(), testProjection()})
	assert.Error(t, err)
	assert.Len(t, ch.published, 1)
}
