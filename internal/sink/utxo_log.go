package sink

import (
	"context"
	"fmt"
	"time"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/storage"
)

// UTXOLog is the machine-oriented UTXO log:
//
//	[2025-03-01T12:00:00Z] UTXO: utxo_01jq... | 0xaaaaaaaa... -> 0xbbbbbbbb... | 300 DTL
type UTXOLog struct {
	file *appendFile
}

// Compile-time interface check.
var _ storage.ProjectionSink = (*UTXOLog)(nil)

// OpenUTXOLog opens the log at path and writes a session banner.
func OpenUTXOLog(path string, clock func() time.Time) (*UTXOLog, error) {
	file, err := newAppendFile(path)
	if err != nil {
		return nil, err
	}
	now := defaultClock(clock)()
	err = file.write([]string{
		"",
		banner,
		fmt.Sprintf("[%s] LEDGER - SESSION START", now.Format(time.RFC3339)),
		banner,
	})
	if err != nil {
		return nil, err
	}
	return &UTXOLog{file: file}, nil
}

// Append writes one line per projection, stamped with the UTXO timestamp.
func (l *UTXOLog) Append(_ context.Context, projections []*domain.Projection) error {
	lines := make([]string, 0, len(projections))
	for _, p := range projections {
		lines = append(lines, fmt.Sprintf("[%s] UTXO: %s | %s -> %s | %s %s",
			p.Timestamp.UTC().Format(time.RFC3339Nano), p.UTXOID,
			shorten(p.Sender, 10), shorten(p.Receiver, 10),
			p.Amount.String(), p.Currency))
	}
	return l.file.write(lines)
}

// Close is a no-op.
func (l *UTXOLog) Close() error {
	return nil
}
