package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/reliefops/reliefops/internal/inventory"
)

// Reconciler replays the movement log against stored balances.
type Reconciler interface {
	Reconcile(ctx context.Context) (inventory.ReconcileReport, error)
}

// LedgerCLI offers operational helpers for the stock ledger.
type LedgerCLI struct {
	ledger Reconciler
}

// NewLedgerCLI constructs a new helper instance.
func NewLedgerCLI(ledger Reconciler) (*LedgerCLI, error) {
	if ledger == nil {
		return nil, errors.New("ledger cli: reconciler required")
	}
	return &LedgerCLI{ledger: ledger}, nil
}

// ReconcileOptions defines available flags for the reconcile command.
type ReconcileOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileSummary describes the JSON response for reconcile.
type ReconcileSummary struct {
	OK        bool              `json:"ok"`
	Records   int               `json:"records"`
	Movements int               `json:"movements"`
	Drift     []inventory.Drift `json:"drift"`
}

// ExitDrift is returned when at least one record disagrees with its movements.
const ExitDrift = 10

// ReconcileCommand replays the ledger and prints the outcome.
func (c *LedgerCLI) ReconcileCommand(ctx context.Context, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	report, err := c.ledger.Reconcile(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	}
	summary := buildReconcileSummary(report)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return 1
		}
	} else {
		renderReconcileHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return ExitDrift
	}
	return 0
}

func buildReconcileSummary(report inventory.ReconcileReport) ReconcileSummary {
	drift := append([]inventory.Drift{}, report.Drift...)
	sort.Slice(drift, func(i, j int) bool { return drift[i].InventoryID < drift[j].InventoryID })
	return ReconcileSummary{
		OK:        len(drift) == 0,
		Records:   report.Records,
		Movements: report.Movements,
		Drift:     drift,
	}
}

func renderReconcileHuman(out io.Writer, summary ReconcileSummary) {
	_, _ = fmt.Fprintf(out, "Checked %d record(s) against %d movement(s)\n", summary.Records, summary.Movements)
	if summary.OK {
		_, _ = fmt.Fprintln(out, "Ledger balances match the movement log.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d record(s) drifted:\n", len(summary.Drift))
	for _, d := range summary.Drift {
		_, _ = fmt.Fprintf(out, " - inventory %d: quantity %d stored, %d replayed; locked %d stored, %d replayed\n",
			d.InventoryID, d.StoredQty, d.ReplayedQty, d.StoredLocked, d.ReplayedLocked)
	}
}
