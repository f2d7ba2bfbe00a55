package idhash

import (
	"strings"
	"testing"
)

func TestNewUTXOID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewUTXOID()
		if !strings.HasPrefix(id, "utxo_") {
			t.Fatalf("expected utxo_ prefix, got %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestNewTemplateID(t *testing.T) {
	id := NewTemplateID()
	if !strings.HasPrefix(id, "tpl_") {
		t.Errorf("expected tpl_ prefix, got %s", id)
	}
	if !HasPrefix(id, PrefixTemplate) {
		t.Errorf("HasPrefix(%s, tpl) = false", id)
	}
	if HasPrefix(id, PrefixUTXO) {
		t.Errorf("HasPrefix(%s, utxo) = true", id)
	}
}

func TestHasPrefix_Invalid(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"no suffix", "utxo_"},
		{"legacy hash id", "utxo_0123456789abcdef"},
		{"wrong prefix", "tx_01h455vb4pex5vsknk084sn02q"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if HasPrefix(tt.id, PrefixUTXO) {
				t.Errorf("HasPrefix(%q) = true, want false", tt.id)
			}
		})
	}
}
