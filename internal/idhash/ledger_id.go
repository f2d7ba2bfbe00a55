package idhash

import (
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// ID prefixes for ledger entities.
const (
	PrefixUTXO     = "utxo"
	PrefixTemplate = "tpl"
)

// NewUTXOID returns a new K-sortable UTXO id ("utxo_01h...").
func NewUTXOID() string {
	return generate(PrefixUTXO)
}

// NewTemplateID returns a new K-sortable template id ("tpl_01h...").
func NewTemplateID() string {
	return generate(PrefixTemplate)
}

// HasPrefix reports whether id parses as a TypeID with the given prefix.
func HasPrefix(id, prefix string) bool {
	if !strings.HasPrefix(id, prefix+"_") {
		return false
	}
	tid, err := typeid.Parse(id)
	if err != nil {
		return false
	}
	return tid.Prefix() == prefix
}

func generate(prefix string) string {
	tid, err := typeid.Generate(prefix)
	if err != nil {
		// Prefixes are constants; an error here is a programming error.
		panic(fmt.Sprintf("idhash: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}
