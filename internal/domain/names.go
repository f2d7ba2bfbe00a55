package domain

// UnknownName is the display name of addresses missing from the registry.
const UnknownName = "Unknown"

// DefaultNames is the static display-name registry for well-known demo accounts.
var DefaultNames = map[string]string{
	"0xba00000000000000000000000000000000000001": "Bahadır",
	"0xul00000000000000000000000000000000000002": "Uluer",
	"0xca00000000000000000000000000000000000003": "Çağatay",
	"0xeb00000000000000000000000000000000000004": "Ebru",
	"0xbu00000000000000000000000000000000000005": "Burcu",
	"0xgi00000000000000000000000000000000000006": "Gizem",
	"0xbk00000000000000000000000000000000000007": "Burak",
}

// NameRegistry resolves display names for addresses.
type NameRegistry map[string]string

// DisplayName returns the registered name for address, or UnknownName.
func (r NameRegistry) DisplayName(address string) string {
	if name, ok := r[NormalizeAddress(address)]; ok {
		return name
	}
	return UnknownName
}
