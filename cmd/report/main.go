// Package main writes per-validator ledger reports and the replica
// verification summary to an output directory.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"dtl-ledger-indexer/internal/app"
	"dtl-ledger-indexer/internal/config"
	"dtl-ledger-indexer/internal/reporting"
	"dtl-ledger-indexer/internal/verification"
)

func main() {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	config.RegisterFlags(fs)
	outputDir := fs.String("output-dir", "reports", "Output directory for generated files")
	transfers := fs.Int("transfers", reporting.DefaultTransferLimit, "Recent transfers listed per validator")

	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, log.New(os.Stderr, "[report] ", log.LstdFlags), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	reports, err := reporting.NewGenerator(a.Ledger).WithTransferLimit(*transfers).GenerateAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating reports: %v\n", err)
		os.Exit(1)
	}
	for _, r := range reports {
		md := filepath.Join(*outputDir, r.Validator+"_report.md")
		if err := os.WriteFile(md, []byte(reporting.RenderMarkdown(r)), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", md, err)
			os.Exit(1)
		}
		csv := filepath.Join(*outputDir, r.Validator+"_accounts.csv")
		if err := os.WriteFile(csv, []byte(reporting.RenderCSV(r.Accounts)), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", csv, err)
			os.Exit(1)
		}
		fmt.Printf("Generated: %s, %s\n", md, csv)
	}

	check, err := verification.VerifyReplicas(ctx, a.Ledger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error verifying replicas: %v\n", err)
		os.Exit(1)
	}
	summary := filepath.Join(*outputDir, "VERIFICATION.md")
	if err := os.WriteFile(summary, []byte(renderVerification(check, time.Now().UTC())), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", summary, err)
		os.Exit(1)
	}
	fmt.Printf("Generated: %s\n", summary)

	if !check.OK() {
		fmt.Fprintln(os.Stderr, "Verification failed: see", summary)
		os.Exit(2)
	}
}

func renderVerification(r *verification.Report, at time.Time) string {
	var sb strings.Builder
	sb.WriteString("# Replica Verification\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", at.Format(time.RFC3339)))

	sb.WriteString("## Primary Document\n\n")
	if r.Primary.OK() {
		sb.WriteString(fmt.Sprintf("All checks passed (supply %s).\n\n", r.Primary.Supply.String()))
	} else {
		for _, d := range r.Primary.Divergences {
			sb.WriteString("- " + d.String() + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Replicas\n\n")
	sb.WriteString("| Store | Digest |\n")
	sb.WriteString("|-------|--------|\n")
	names := make([]string, 0, len(r.Digests))
	for name := range r.Digests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("| %s | %s |\n", name, r.Digests[name]))
	}
	sb.WriteString("\n")
	if len(r.Replicas) == 0 {
		sb.WriteString("All replicas match the primary.\n")
	} else {
		for _, d := range r.Replicas {
			sb.WriteString("- " + d.String() + "\n")
		}
	}
	return sb.String()
}
