// Command recon is the operator CLI for local runs: it parses messages,
// seeds fixtures, runs reconciliation batches, prints balances and committed
// payments, and issues landlord API tokens against the configured database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mmynk/rentrecon/internal/auth"
	"github.com/mmynk/rentrecon/internal/config"
	"github.com/mmynk/rentrecon/internal/ledger"
	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/parser"
	"github.com/mmynk/rentrecon/internal/reconcile"
	"github.com/mmynk/rentrecon/internal/storage/sqlite"
	"github.com/mmynk/rentrecon/pkg/logging"
)

const usage = `usage: recon <command> [flags]

commands:
  parse <text>                                  parse a payment message
  seed -file fixtures.json                      create landlords, units and tenants
  reconcile -landlord ID [-auto] [-ids a,b]     run a reconciliation batch
  balance -landlord ID -unit ID -month YYYY-MM  recompute and print a month's balance
  payments -landlord ID [-unit ID]              list committed payments
  unattributed                                  list payments waiting for a landlord
  token -landlord ID                            issue an API token
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.SetupWith(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	ctx := context.Background()
	if err := run(ctx, cfg, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		slog.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "parse":
		return runParse(cfg, args, out)
	case "token":
		return runToken(cfg, args, out)
	case "seed", "reconcile", "balance", "payments", "unattributed":
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	switch cmd {
	case "seed":
		return runSeed(ctx, store, args, out)
	case "reconcile":
		return runReconcile(ctx, cfg, store, args, out)
	case "balance":
		return runBalance(ctx, cfg, store, args, out)
	case "payments":
		return runPayments(ctx, store, args, out)
	default:
		queued, err := store.ListUnattributed(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, queued)
	}
}

func runParse(cfg *config.Config, args []string, out io.Writer) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" || text == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(raw)
	}
	return writeJSON(out, parser.ParseIn(text, cfg.Location))
}

func runToken(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	landlordID := fs.String("landlord", "", "landlord ID")
	ttl := fs.Duration("ttl", cfg.JWTTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token, err := auth.NewJWTManager(cfg.JWTSecret, *ttl).Generate(*landlordID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runReconcile(ctx context.Context, cfg *config.Config, store *sqlite.SQLiteStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	landlordID := fs.String("landlord", "", "landlord ID")
	autoMatch := fs.Bool("auto", false, "commit matches at or above the threshold")
	ids := fs.String("ids", "", "comma-separated transaction IDs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *landlordID == "" {
		return errors.New("-landlord is required")
	}

	var txIDs []string
	for _, id := range strings.Split(*ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			txIDs = append(txIDs, id)
		}
	}

	engine := ledger.NewEngine(store, cfg.Location)
	orchestrator := reconcile.New(store, engine, reconcile.Config{
		AutoMatchThreshold: cfg.AutoMatchThreshold,
		PageSize:           cfg.ReconcilePageSize,
	})
	result, err := orchestrator.Reconcile(ctx, reconcile.Request{
		LandlordID:     *landlordID,
		TransactionIDs: txIDs,
		AutoMatch:      *autoMatch,
	})
	if err != nil {
		return err
	}
	return writeJSON(out, result)
}

func runBalance(ctx context.Context, cfg *config.Config, store *sqlite.SQLiteStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	landlordID := fs.String("landlord", "", "landlord ID")
	unitID := fs.String("unit", "", "unit ID")
	month := fs.String("month", time.Now().In(cfg.Location).Format(models.MonthLayout), "month as YYYY-MM")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := time.Parse(models.MonthLayout, *month)
	if err != nil {
		return fmt.Errorf("-month must be YYYY-MM: %w", err)
	}
	start, _ := models.MonthBounds(m, cfg.Location)

	balance, err := ledger.NewEngine(store, cfg.Location).Recompute(ctx, *landlordID, *unitID, start)
	if err != nil {
		return err
	}
	return writeJSON(out, balance)
}

func runPayments(ctx context.Context, store *sqlite.SQLiteStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("payments", flag.ContinueOnError)
	landlordID := fs.String("landlord", "", "landlord ID")
	unitID := fs.String("unit", "", "only payments attached to this unit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *landlordID == "" {
		return errors.New("-landlord is required")
	}

	payments, err := store.ListPayments(ctx, *landlordID, *unitID)
	if err != nil {
		return err
	}
	return writeJSON(out, payments)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
