package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderCSV renders the account table as CSV.
func RenderCSV(accounts []AccountRow) string {
	var sb strings.Builder

	sb.WriteString("address,name,balance,created_at\n")
	for _, a := range accounts {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s\n",
			a.Address,
			csvField(a.Name),
			a.Balance.String(),
			a.CreatedAt.UTC().Format(time.RFC3339),
		))
	}

	return sb.String()
}

// csvField quotes values containing separators.
func csvField(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
