package sink

import (
	"context"
	"fmt"
	"time"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/storage"
)

const transferLogTime = "2006-01-02 15:04:05"

// TransferLog is the human-readable transfer log:
//
//	[2025-03-01 12:00:00] 0xaaaaaaaa... -> 0xbbbbbbbb...: 300 DTL (utxo: utxo_...0m2n3p4r5s) [template: Rent / Landlord]
type TransferLog struct {
	file  *appendFile
	clock func() time.Time
}

// Compile-time interface check.
var _ storage.ProjectionSink = (*TransferLog)(nil)

// OpenTransferLog opens the log at path and writes a session banner.
func OpenTransferLog(path string, clock func() time.Time) (*TransferLog, error) {
	file, err := newAppendFile(path)
	if err != nil {
		return nil, err
	}
	l := &TransferLog{file: file, clock: defaultClock(clock)}
	err = file.write([]string{
		"",
		banner,
		fmt.Sprintf("[%s] SCHEDULER STARTED", l.clock().Format(transferLogTime)),
		banner,
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Append writes one line per projection.
func (l *TransferLog) Append(_ context.Context, projections []*domain.Projection) error {
	ts := l.clock().Format(transferLogTime)
	lines := make([]string, 0, len(projections))
	for _, p := range projections {
		lines = append(lines, FormatTransferLine(ts, p))
	}
	return l.file.write(lines)
}

// Close is a no-op; the file is opened per append.
func (l *TransferLog) Close() error {
	return nil
}

// FormatTransferLine renders p as a transfer log line stamped ts.
func FormatTransferLine(ts string, p *domain.Projection) string {
	line := fmt.Sprintf("[%s] %s -> %s: %s %s", ts,
		shorten(p.Sender, 10), shorten(p.Receiver, 10), p.Amount.String(), p.Currency)
	if p.UTXOID != "" {
		line += fmt.Sprintf(" (utxo: %s)", shortUTXOID(p.UTXOID))
	}
	if p.TemplateLabel != "" {
		line += fmt.Sprintf(" [template: %s]", p.TemplateLabel)
	}
	return line
}
