package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"dtl-ledger-indexer/internal/domain"
)

// legacySchemaVersion is the pre-template schema (no templates_index).
const legacySchemaVersion = "1.0"

// Encode serializes doc deterministically (sorted map keys, two-space indent),
// so equal documents produce identical bytes on every target.
func Encode(doc *domain.LedgerDocument) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return data, nil
}

// Decode parses a ledger document and migrates it to domain.SchemaVersion.
// Documents in the older on-disk format (zone-less timestamps, object
// backups) are normalized first. Returns an error wrapping
// ErrCorruptDocument for malformed input.
func Decode(data []byte, currency string, now time.Time) (*domain.LedgerDocument, error) {
	var doc domain.LedgerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		legacy, lerr := normalizeLegacy(data)
		if lerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
		}
		doc = domain.LedgerDocument{}
		if err := json.Unmarshal(legacy, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
		}
	}
	migrate(&doc, currency, now)
	return &doc, nil
}

// migrate upgrades older documents in place and fills in fields a
// hand-edited or partially written document may lack.
func migrate(doc *domain.LedgerDocument, currency string, now time.Time) {
	switch doc.Metadata.Version {
	case "", legacySchemaVersion:
		doc.Metadata.Version = domain.SchemaVersion
	}
	if doc.Metadata.Currency == "" {
		if currency == "" {
			currency = domain.DefaultCurrency
		}
		doc.Metadata.Currency = currency
	}
	if doc.Metadata.CreatedAt.IsZero() {
		doc.Metadata.CreatedAt = now.UTC()
	}

	if doc.Accounts == nil {
		doc.Accounts = make(map[string]*domain.Account)
	}
	for addr, acc := range doc.Accounts {
		if acc == nil {
			delete(doc.Accounts, addr)
			continue
		}
		if acc.Address == "" {
			acc.Address = addr
		}
	}
	if doc.UTXOs == nil {
		doc.UTXOs = []*domain.UTXO{}
	}
	if doc.Transactions == nil {
		doc.Transactions = []*domain.Transaction{}
	}
	if doc.TemplatesIndex == nil {
		doc.TemplatesIndex = make(map[string]*domain.Template)
	}
	for id, tpl := range doc.TemplatesIndex {
		if tpl == nil {
			delete(doc.TemplatesIndex, id)
			continue
		}
		if tpl.ID == "" {
			tpl.ID = id
		}
		if tpl.Status == "" {
			tpl.Status = domain.TemplateStatusActive
		}
	}
}
