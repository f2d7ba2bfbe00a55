package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/storage"
)

const validatorLogTime = "2006-01-02 15:04:05.000"

// ValidatorLog writes every projection to a per-validator log file
// dtl-<validator>.txt, so each node has its own view of synced transfers.
type ValidatorLog struct {
	files map[string]*appendFile
	names []string
	clock func() time.Time
}

// Compile-time interface check.
var _ storage.ProjectionSink = (*ValidatorLog)(nil)

// ValidatorLogPath returns the log file path for a validator.
func ValidatorLogPath(dir, validator string) string {
	return filepath.Join(dir, "dtl-"+validator+".txt")
}

// OpenValidatorLogs opens one log per validator under dir. A header is
// written to files that do not exist yet.
func OpenValidatorLogs(dir string, validators []string, clock func() time.Time) (*ValidatorLog, error) {
	l := &ValidatorLog{
		files: make(map[string]*appendFile, len(validators)),
		names: append([]string(nil), validators...),
		clock: defaultClock(clock),
	}
	for _, name := range validators {
		path := ValidatorLogPath(dir, name)
		file, err := newAppendFile(path)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			header := []string{
				strings.Repeat("=", 60),
				fmt.Sprintf("  DTL Multi-Indexer - %s Log", strings.ToUpper(name)),
				fmt.Sprintf("  Started: %s", l.clock().Format(transferLogTime)),
				strings.Repeat("=", 60),
				"",
			}
			if err := file.write(header); err != nil {
				return nil, err
			}
		}
		l.files[name] = file
	}
	return l, nil
}

// Append writes a transfer block per projection to every validator log.
func (l *ValidatorLog) Append(_ context.Context, projections []*domain.Projection) error {
	if len(projections) == 0 {
		return nil
	}
	ts := l.clock().Format(validatorLogTime)
	var lines []string
	for _, p := range projections {
		lines = append(lines, transferBlock(ts, p)...)
	}

	var errs []error
	for _, name := range l.names {
		if err := l.files[name].write(lines); err != nil {
			errs = append(errs, fmt.Errorf("validator %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op.
func (l *ValidatorLog) Close() error {
	return nil
}

func transferBlock(ts string, p *domain.Projection) []string {
	info := func(format string, args ...any) string {
		return fmt.Sprintf("[%s] [INFO] ", ts) + fmt.Sprintf(format, args...)
	}
	lines := []string{info("<<< INCOMING TRANSFER (synced)")}
	if p.ExternalTxRef != "" {
		lines = append(lines, info("  tx_hash: %s", shorten(p.ExternalTxRef, 16)))
	}
	lines = append(lines,
		info("  utxo: %s", p.UTXOID),
		info("  from: %s (%s)", shorten(p.Sender, 10), p.SenderName),
		info("  to: %s (%s)", shorten(p.Receiver, 10), p.ReceiverName),
		info("  amount: %s %s", p.Amount.String(), p.Currency),
	)
	if p.TemplateLabel != "" {
		lines = append(lines, info("  template: %s", p.TemplateLabel))
	}
	lines = append(lines, info("  status: CONFIRMED"), "")
	return lines
}
