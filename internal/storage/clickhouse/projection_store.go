package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/storage"
)

// ProjectionStore implements storage.ProjectionSink using ClickHouse.
// Rows land in utxo_projections (ReplacingMergeTree keyed by utxo_id), so a
// projection replayed after a failed cycle collapses on merge.
type ProjectionStore struct {
	conn *Conn
}

// NewProjectionStore creates a new ProjectionStore.
func NewProjectionStore(conn *Conn) *ProjectionStore {
	return &ProjectionStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ProjectionSink = (*ProjectionStore)(nil)

// Append inserts projections in one batch.
func (s *ProjectionStore) Append(ctx context.Context, projections []*domain.Projection) error {
	if len(projections) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO utxo_projections (
			utxo_id, kind, sender, receiver, sender_name, receiver_name,
			amount, currency, ts, tx_id, tx_hash, template_id, template_label, sequence
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range projections {
		err = batch.Append(
			p.UTXOID, string(p.Kind), p.Sender, p.Receiver, p.SenderName, p.ReceiverName,
			p.Amount, p.Currency, p.Timestamp.UTC(), p.TxID, p.ExternalTxRef,
			p.TemplateID, p.TemplateLabel, uint64(p.Sequence),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// Close is a no-op; the connection is owned by the caller.
func (s *ProjectionStore) Close() error {
	return nil
}

// GetByAccount returns projections where address is sender or receiver,
// ordered by sequence ASC.
func (s *ProjectionStore) GetByAccount(ctx context.Context, address string) ([]*domain.Projection, error) {
	query := `
		SELECT utxo_id, kind, sender, receiver, sender_name, receiver_name,
		       amount, currency, ts, tx_id, tx_hash, template_id, template_label, sequence
		FROM utxo_projections FINAL
		WHERE sender = ? OR receiver = ?
		ORDER BY sequence ASC
	`

	rows, err := s.conn.Query(ctx, query, address, address)
	if err != nil {
		return nil, fmt.Errorf("query by account: %w", err)
	}
	defer rows.Close()

	return scanProjections(rows)
}

// Count returns the number of distinct projected UTXOs.
func (s *ProjectionStore) Count(ctx context.Context) (uint64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM utxo_projections FINAL`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// scanProjections scans multiple rows.
func scanProjections(rows driver.Rows) ([]*domain.Projection, error) {
	var out []*domain.Projection

	for rows.Next() {
		var (
			p        domain.Projection
			kind     string
			amount   decimal.Decimal
			ts       time.Time
			sequence uint64
		)
		err := rows.Scan(
			&p.UTXOID, &kind, &p.Sender, &p.Receiver, &p.SenderName, &p.ReceiverName,
			&amount, &p.Currency, &ts, &p.TxID, &p.ExternalTxRef,
			&p.TemplateID, &p.TemplateLabel, &sequence,
		)
		if err != nil {
			return nil, fmt.Errorf("scan projection: %w", err)
		}
		p.Kind = domain.UTXOKind(kind)
		p.Amount = amount
		p.Timestamp = ts
		p.Sequence = int(sequence)
		out = append(out, &p)
	}

	return out, rows.Err()
}
