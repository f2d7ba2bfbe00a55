package idhash

import (
	"strings"
	"testing"
)

func TestComputeContentID(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		same bool
	}{
		{"identical content", []byte(`{"a":1}`), []byte(`{"a":1}`), true},
		{"different content", []byte(`{"a":1}`), []byte(`{"a":2}`), false},
		{"empty vs non-empty", []byte{}, []byte("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idA := ComputeContentID(tt.a)
			idB := ComputeContentID(tt.b)

			if !strings.HasPrefix(idA, "Qm") {
				t.Errorf("expected Qm prefix, got %s", idA)
			}
			if len(idA) != 46 {
				t.Errorf("expected length 46, got %d", len(idA))
			}
			if (idA == idB) != tt.same {
				t.Errorf("ComputeContentID equality = %v, want %v", idA == idB, tt.same)
			}
		})
	}
}

func TestDocumentDigest(t *testing.T) {
	d1 := DocumentDigest([]byte("ledger"))
	d2 := DocumentDigest([]byte("ledger"))
	if d1 != d2 {
		t.Error("digest should be deterministic")
	}
	if len(d1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(d1))
	}
}
