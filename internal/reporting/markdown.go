package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Validator Report: %s\n\n", r.Validator))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Stats
	sb.WriteString("## Ledger Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Accounts | %d |\n", r.Stats.AccountCount))
	sb.WriteString(fmt.Sprintf("| UTXOs | %d |\n", r.Stats.UTXOCount))
	sb.WriteString(fmt.Sprintf("| Transactions | %d |\n", r.Stats.TransactionCount))
	sb.WriteString(fmt.Sprintf("| Active Templates | %d |\n", r.Stats.TemplateCount))
	sb.WriteString(fmt.Sprintf("| Total Supply | %s %s |\n", r.Stats.TotalSupply.String(), r.Currency))
	sb.WriteString(fmt.Sprintf("| Schema Version | %s |\n", r.Stats.Version))
	sb.WriteString("\n")

	// Accounts
	sb.WriteString("## Accounts\n\n")
	if len(r.Accounts) > 0 {
		sb.WriteString("| Address | Name | Balance |\n")
		sb.WriteString("|---------|------|---------|\n")
		for _, a := range r.Accounts {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n", a.Address, a.Name, a.Balance.String()))
		}
	} else {
		sb.WriteString("No accounts.\n")
	}
	sb.WriteString("\n")

	// Transfers
	sb.WriteString("## Recent Transfers\n\n")
	if len(r.RecentTransfers) > 0 {
		sb.WriteString("| Tx | Time | From | To | Amount | UTXO | Template |\n")
		sb.WriteString("|----|------|------|----|--------|------|----------|\n")
		for _, tr := range r.RecentTransfers {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s (%s) | %s (%s) | %s | %s | %s |\n",
				tr.TxID, tr.CreatedAt.UTC().Format(time.RFC3339),
				tr.SenderName, tr.Sender, tr.ReceiverName, tr.Receiver,
				tr.Amount.String(), tr.UTXOID, dash(tr.TemplateID)))
		}
	} else {
		sb.WriteString("No transfers recorded.\n")
	}
	sb.WriteString("\n")

	// Verification
	sb.WriteString("## Integrity Checks\n\n")
	if r.Verification == nil {
		sb.WriteString("No integrity checks performed.\n\n")
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("Supply %s, minted %s.\n\n",
		r.Verification.Supply.String(), r.Verification.Minted.String()))
	if r.Verification.OK() {
		sb.WriteString("**All checks passed.**\n\n")
	} else {
		sb.WriteString("| Check | Subject | Expected | Actual |\n")
		sb.WriteString("|-------|---------|----------|--------|\n")
		for _, d := range r.Verification.Divergences {
			sb.WriteString(fmt.Sprintf("| %s | %s | %v | %v |\n", d.Check, d.Subject, d.Expected, d.Actual))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
