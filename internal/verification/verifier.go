// Package verification checks ledger documents and their validator replicas
// for the invariants every mutation is expected to preserve.
package verification

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"dtl-ledger-indexer/internal/domain"
)

// Check names.
const (
	CheckConservation  = "conservation"
	CheckNegative      = "negative_balance"
	CheckAmount        = "non_positive_amount"
	CheckPairing       = "tx_utxo_pairing"
	CheckTxOrder       = "tx_id_order"
	CheckUniqueUTXO    = "duplicate_utxo"
	CheckReplicaDigest = "replica_digest"
)

// Divergence is one violated invariant.
type Divergence struct {
	Check    string      `json:"check"`
	Subject  string      `json:"subject"`  // account, utxo, transaction or replica
	Expected interface{} `json:"expected"` // value the invariant requires
	Actual   interface{} `json:"actual"`
}

func (d Divergence) String() string {
	return fmt.Sprintf("%s %s: expected %v, got %v", d.Check, d.Subject, d.Expected, d.Actual)
}

// DocumentReport is the result of verifying one document.
type DocumentReport struct {
	Name        string
	Accounts    int
	UTXOs       int
	Supply      decimal.Decimal // sum of balances
	Minted      decimal.Decimal // sum of mint UTXOs
	Divergences []Divergence
}

// OK reports whether no invariant was violated.
func (r *DocumentReport) OK() bool {
	return len(r.Divergences) == 0
}

// VerifyDocument checks doc. name labels the report.
func VerifyDocument(name string, doc *domain.LedgerDocument) *DocumentReport {
	report := &DocumentReport{
		Name:     name,
		Accounts: len(doc.Accounts),
		UTXOs:    len(doc.UTXOs),
		Supply:   decimal.Zero,
		Minted:   decimal.Zero,
	}
	add := func(check, subject string, expected, actual interface{}) {
		report.Divergences = append(report.Divergences, Divergence{
			Check: check, Subject: subject, Expected: expected, Actual: actual,
		})
	}

	addrs := make([]string, 0, len(doc.Accounts))
	for addr := range doc.Accounts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		bal := doc.Accounts[addr].Balance
		report.Supply = report.Supply.Add(bal)
		if bal.IsNegative() {
			add(CheckNegative, addr, ">= 0", bal.String())
		}
	}

	utxos := make(map[string]*domain.UTXO, len(doc.UTXOs))
	for _, u := range doc.UTXOs {
		if _, dup := utxos[u.ID]; dup {
			add(CheckUniqueUTXO, u.ID, 1, 2)
		}
		utxos[u.ID] = u
		if !u.Amount.IsPositive() {
			add(CheckAmount, u.ID, "> 0", u.Amount.String())
		}
		if u.IsMint() {
			report.Minted = report.Minted.Add(u.Amount)
		}
	}

	if !report.Supply.Equal(report.Minted) {
		add(CheckConservation, "supply", report.Minted.String(), report.Supply.String())
	}

	paired := make(map[string]bool, len(doc.Transactions))
	var lastID int64
	for _, tx := range doc.Transactions {
		subject := fmt.Sprintf("tx %d", tx.ID)
		if tx.ID <= lastID {
			add(CheckTxOrder, subject, fmt.Sprintf("> %d", lastID), tx.ID)
		}
		lastID = tx.ID
		if !tx.Amount.IsPositive() {
			add(CheckAmount, subject, "> 0", tx.Amount.String())
		}

		u, ok := utxos[tx.UTXOID]
		switch {
		case !ok:
			add(CheckPairing, subject, tx.UTXOID, "missing utxo")
		case u.IsMint():
			add(CheckPairing, subject, domain.UTXOKindTransfer, u.Kind)
		case u.Sender != tx.Sender || u.Receiver != tx.Receiver || !u.Amount.Equal(tx.Amount):
			add(CheckPairing, subject,
				fmt.Sprintf("%s->%s %s", tx.Sender, tx.Receiver, tx.Amount),
				fmt.Sprintf("%s->%s %s", u.Sender, u.Receiver, u.Amount))
		}
		paired[tx.UTXOID] = true
	}
	for _, u := range doc.UTXOs {
		if u.Kind == domain.UTXOKindTransfer && !paired[u.ID] {
			add(CheckPairing, u.ID, "transaction", "none")
		}
	}

	return report
}

// Source is the ledger surface the replica check reads.
type Source interface {
	Load(ctx context.Context) (*domain.LedgerDocument, error)
	Validators() []string
	ReplicaDigests(ctx context.Context) (map[string]string, error)
}

// Report is the result of verifying the primary document and every replica.
type Report struct {
	Primary  *DocumentReport
	Digests  map[string]string
	Replicas []Divergence
}

// OK reports whether the primary is consistent and every replica matches it.
func (r *Report) OK() bool {
	return r.Primary.OK() && len(r.Replicas) == 0
}

// VerifyReplicas checks the primary document and compares each validator replica
// digest with the primary digest.
func VerifyReplicas(ctx context.Context, src Source) (*Report, error) {
	doc, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load primary: %w", err)
	}
	digests, err := src.ReplicaDigests(ctx)
	if err != nil {
		return nil, fmt.Errorf("replica digests: %w", err)
	}

	validators := src.Validators()
	isReplica := make(map[string]bool, len(validators))
	for _, v := range validators {
		isReplica[v] = true
	}
	var primary string
	for name, digest := range digests {
		if !isReplica[name] {
			primary = digest
		}
	}

	report := &Report{Primary: VerifyDocument("primary", doc), Digests: digests}
	for _, v := range validators {
		if got := digests[v]; got != primary {
			report.Replicas = append(report.Replicas, Divergence{
				Check: CheckReplicaDigest, Subject: v, Expected: primary, Actual: got,
			})
		}
	}
	return report, nil
}
