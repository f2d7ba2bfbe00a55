package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/verification"
)

// DefaultTransferLimit is the number of recent transfers in a report.
const DefaultTransferLimit = 20

// Source is the ledger surface reports are built from.
type Source interface {
	Validators() []string
	ValidatorView(ctx context.Context, name string) (*domain.LedgerDocument, error)
	DisplayName(address string) string
	Currency() string
}

// Generator produces reports from validator replicas.
type Generator struct {
	source        Source
	transferLimit int
	now           func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(source Source) *Generator {
	return &Generator{
		source:        source,
		transferLimit: DefaultTransferLimit,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithTransferLimit sets the number of recent transfers listed.
func (g *Generator) WithTransferLimit(n int) *Generator {
	if n > 0 {
		g.transferLimit = n
	}
	return g
}

// Generate builds the report of one validator. The replica is read in
// isolation; the primary document is never consulted.
func (g *Generator) Generate(ctx context.Context, validator string) (*Report, error) {
	doc, err := g.source.ValidatorView(ctx, validator)
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", validator, err)
	}

	return &Report{
		GeneratedAt:     g.now(),
		Validator:       validator,
		Currency:        g.source.Currency(),
		Stats:           doc.ComputeStats(),
		Accounts:        g.accountRows(doc),
		RecentTransfers: g.transferRows(doc),
		Verification:    verification.VerifyDocument(validator, doc),
	}, nil
}

// GenerateAll builds one report per configured validator, in validator order.
func (g *Generator) GenerateAll(ctx context.Context) ([]*Report, error) {
	validators := g.source.Validators()
	reports := make([]*Report, 0, len(validators))
	for _, v := range validators {
		r, err := g.Generate(ctx, v)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func (g *Generator) accountRows(doc *domain.LedgerDocument) []AccountRow {
	rows := make([]AccountRow, 0, len(doc.Accounts))
	for addr, acc := range doc.Accounts {
		name := acc.Name
		if name == "" {
			name = g.source.DisplayName(addr)
		}
		rows = append(rows, AccountRow{
			Address:   addr,
			Name:      name,
			Balance:   acc.Balance,
			CreatedAt: acc.CreatedAt,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].Balance.Cmp(rows[j].Balance); c != 0 {
			return c > 0
		}
		return rows[i].Address < rows[j].Address
	})
	return rows
}

func (g *Generator) transferRows(doc *domain.LedgerDocument) []TransferRow {
	var rows []TransferRow
	for i := len(doc.Transactions) - 1; i >= 0 && len(rows) < g.transferLimit; i-- {
		tx := doc.Transactions[i]
		rows = append(rows, TransferRow{
			TxID:         tx.ID,
			Sender:       tx.Sender,
			SenderName:   g.source.DisplayName(tx.Sender),
			Receiver:     tx.Receiver,
			ReceiverName: g.source.DisplayName(tx.Receiver),
			Amount:       tx.Amount,
			UTXOID:       tx.UTXOID,
			TemplateID:   tx.TemplateID,
			CreatedAt:    tx.CreatedAt,
		})
	}
	return rows
}
