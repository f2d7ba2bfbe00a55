// Package main is an operator tool for inspecting and mutating the ledger
// without the HTTP API.
//
// Usage:
//
//	ledgerctl <command> [flags] [args]
//
// Commands: stats, create-account, mint, transfer, reset, resync, verify.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"

	"dtl-ledger-indexer/internal/app"
	"dtl-ledger-indexer/internal/config"
	"dtl-ledger-indexer/internal/ledger"
	"dtl-ledger-indexer/internal/transfer"
	"dtl-ledger-indexer/internal/verification"
)

var errUsage = errors.New("usage")

type command struct {
	args  string
	about string
	run   func(ctx context.Context, a *app.App, args []string, out io.Writer) error
}

var commands = map[string]command{
	"stats":          {"", "print ledger statistics", runStats},
	"create-account": {"<address> [initial-balance] [name]", "create an account", runCreateAccount},
	"mint":           {"<address> <amount> [reason]", "mint new supply to an address", runMint},
	"transfer":       {"<from> <to> <amount>", "transfer between accounts", runTransfer},
	"reset":          {"", "remove the primary and every replica document", runReset},
	"resync":         {"", "rewrite every replica from the primary", runResync},
	"verify":         {"", "check ledger invariants and replica digests", runVerify},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
		usage(os.Stderr)
		os.Exit(2)
	}

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	config.RegisterFlags(fs)
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	cfg, err := config.Load(fs, os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger := log.New(os.Stderr, "[ledgerctl] ", log.LstdFlags)
	a, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		os.Exit(1)
	}

	err = cmd.run(ctx, a, fs.Args(), os.Stdout)
	a.Close()
	if errors.Is(err, errUsage) {
		fmt.Fprintf(os.Stderr, "usage: ledgerctl %s %s\n", name, cmd.args)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: ledgerctl <command> [flags] [args]")
	fmt.Fprintln(w)
	for _, name := range []string{"stats", "create-account", "mint", "transfer", "reset", "resync", "verify"} {
		c := commands[name]
		fmt.Fprintf(w, "  %-15s %s\n", name, c.about)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q", ledger.ErrInvalidAmount, s)
	}
	return d, nil
}

func runStats(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) != 0 {
		return errUsage
	}
	stats, err := a.Ledger.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, stats)
}

func runCreateAccount(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) < 1 || len(args) > 3 {
		return errUsage
	}
	initial := decimal.Zero
	if len(args) > 1 {
		var err error
		if initial, err = parseAmount(args[1]); err != nil {
			return err
		}
	}
	var name string
	if len(args) > 2 {
		name = args[2]
	}
	acct, err := a.Ledger.CreateAccount(ctx, args[0], initial, name)
	if err != nil {
		return err
	}
	return printJSON(out, acct)
}

func runMint(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	reason := ledger.MintReasonManual
	if len(args) == 3 {
		reason = args[2]
	}
	res, err := a.Ledger.Mint(ctx, args[0], amount, reason)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func runTransfer(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) != 3 {
		return errUsage
	}
	amount, err := parseAmount(args[2])
	if err != nil {
		return err
	}
	res, err := a.Engine.Transfer(ctx, transfer.Request{Sender: args[0], Receiver: args[1], Amount: amount})
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func runReset(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) != 0 {
		return errUsage
	}
	if err := a.Ledger.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "ledger reset")
	return nil
}

func runResync(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) != 0 {
		return errUsage
	}
	if err := a.Ledger.Resync(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "resynced %d replicas\n", len(a.Ledger.Validators()))
	return nil
}

func runVerify(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) != 0 {
		return errUsage
	}
	report, err := verification.VerifyReplicas(ctx, a.Ledger)
	if err != nil {
		return err
	}
	for _, d := range report.Primary.Divergences {
		fmt.Fprintln(out, d.String())
	}
	for _, d := range report.Replicas {
		fmt.Fprintln(out, d.String())
	}
	if !report.OK() {
		return errors.New("verification failed")
	}
	fmt.Fprintf(out, "OK: %d accounts, supply %s, %d replicas in sync\n",
		report.Primary.Accounts, report.Primary.Supply.String(), len(a.Ledger.Validators()))
	return nil
}
