// Package sink holds the projection sinks fed by the reconciliation loop:
// append-only text logs and an AMQP publisher.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Default log file names.
const (
	TransferLogFile = "transfers.txt"
	UTXOLogFile     = "opencbdc_ledger.txt"
)

const banner = "=================================================="

// Short UTXO ids in the transfer log: ids up to shortIDMax characters are
// printed whole, longer ones as "<prefix>_..." plus the last shortIDTail.
const (
	shortIDMax  = 21
	shortIDTail = 10
)

// appendFile serializes appends to one text file. The file is opened per
// write so external rotation is picked up.
type appendFile struct {
	path string
	mu   sync.Mutex
}

func newAppendFile(path string) (*appendFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &appendFile{path: path}, nil
}

func (f *appendFile) write(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	_, werr := file.WriteString(strings.Join(lines, "\n") + "\n")
	cerr := file.Close()
	if werr != nil {
		return fmt.Errorf("write %s: %w", f.path, werr)
	}
	return cerr
}

// shorten truncates an address to n characters followed by "...".
func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// shortUTXOID keeps the type prefix and the last shortIDTail characters of
// id. TypeID suffixes lead with a millisecond timestamp, so the tail is the
// part that tells ids minted in the same millisecond apart.
func shortUTXOID(id string) string {
	if len(id) <= shortIDMax {
		return id
	}
	head := ""
	if i := strings.LastIndexByte(id, '_'); i >= 0 && i < len(id)-shortIDTail {
		head = id[:i+1]
	}
	return head + "..." + id[len(id)-shortIDTail:]
}

func defaultClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		return time.Now
	}
	return clock
}
