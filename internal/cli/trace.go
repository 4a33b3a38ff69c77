package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/kinrule/internal/ir"
	"github.com/roach88/kinrule/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database   string
	AppID      string
	RecordID   string
	DispatchID string
	Failed     bool
	Limit      int
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Dispatches []ir.DispatchRecord `json:"dispatches"`
	Stats      TraceStats          `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Dispatches    int `json:"dispatches"`
	Derivations   int `json:"derivations"`
	Changed       int `json:"changed"`
	Skipped       int `json:"skipped"`
	Updates       int `json:"updates"`
	FailedUpdates int `json:"failed_updates"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the audit timeline",
		Long: `Show the recorded dispatches from an audit database.

Each dispatch lists the rules that ran, the fields they derived and the
remote updates they issued, in seq order.

Examples:
  kinrule trace --db ./kinrule.db
  kinrule trace --db ./kinrule.db --app 12 --record 42
  kinrule trace --db ./kinrule.db --failed --format json
  kinrule trace --db ./kinrule.db --dispatch 0190b7a2-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.AppID, "app", "", "only dispatches of this app")
	cmd.Flags().StringVar(&opts.RecordID, "record", "", "only dispatches of this record id")
	cmd.Flags().StringVar(&opts.DispatchID, "dispatch", "", "show a single dispatch")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only dispatches with a failed remote update")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "only the most recent N dispatches")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Open would create an empty database; a typo should fail instead.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	dispatches, err := readTrace(ctx, st, opts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitCommandError, fmt.Sprintf("dispatch not found: %s", opts.DispatchID))
		}
		return WrapExitError(ExitCommandError, "failed to read dispatches", err)
	}

	result := TraceResult{Dispatches: dispatches, Stats: traceStats(dispatches)}

	formatter := newFormatter(opts.RootOptions, cmd)
	if formatter.JSON() {
		return formatter.Encode(CLIResponse{Status: "ok", Data: result})
	}

	if len(dispatches) == 0 {
		fmt.Fprintln(formatter.Writer, "No dispatches found.")
		return nil
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

func readTrace(ctx context.Context, st *store.Store, opts *TraceOptions) ([]ir.DispatchRecord, error) {
	if opts.DispatchID != "" {
		rec, err := st.ReadDispatch(ctx, opts.DispatchID)
		if err != nil {
			return nil, err
		}
		return []ir.DispatchRecord{rec}, nil
	}
	return st.ReadDispatches(ctx, store.Filter{
		AppID:      opts.AppID,
		RecordID:   opts.RecordID,
		FailedOnly: opts.Failed,
		Limit:      opts.Limit,
	})
}

func traceStats(dispatches []ir.DispatchRecord) TraceStats {
	stats := TraceStats{Dispatches: len(dispatches)}
	for _, d := range dispatches {
		for _, der := range d.Derivations {
			switch {
			case der.Skip != "":
				stats.Skipped++
			case der.Changed:
				stats.Derivations++
				stats.Changed++
			default:
				stats.Derivations++
			}
		}
		for _, u := range d.Updates {
			stats.Updates++
			if !u.OK() {
				stats.FailedUpdates++
			}
		}
	}
	return stats
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintln(w, "=== Timeline ===")
	for _, d := range result.Dispatches {
		formatDispatch(w, d, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Dispatches:     %d\n", result.Stats.Dispatches)
	fmt.Fprintf(w, "  Derivations:    %d (%d changed)\n", result.Stats.Derivations, result.Stats.Changed)
	fmt.Fprintf(w, "  Skipped:        %d\n", result.Stats.Skipped)
	fmt.Fprintf(w, "  Updates:        %d\n", result.Stats.Updates)
	fmt.Fprintf(w, "  Failed updates: %d\n", result.Stats.FailedUpdates)
}

// formatDispatch formats a single dispatch for text output.
func formatDispatch(w io.Writer, d ir.DispatchRecord, verbose bool) {
	fmt.Fprintf(w, "  [%d] %s app=%s", d.Seq, d.Event, d.AppID)
	if d.RecordID != "" {
		fmt.Fprintf(w, " record=%s", d.RecordID)
	}
	if d.RecordNumber > 0 {
		fmt.Fprintf(w, " #%d", d.RecordNumber)
	}
	fmt.Fprintln(w)
	if verbose {
		fmt.Fprintf(w, "       ID: %s (engine %s)\n", d.ID, d.EngineVersion)
	}

	for _, der := range d.Derivations {
		switch {
		case der.Skip != "":
			fmt.Fprintf(w, "       - %s skipped: %s\n", der.Rule, der.Skip)
		case der.Changed:
			fmt.Fprintf(w, "       * %s %s: %s -> %s\n", der.Rule, der.Field, orAbsent(der.Before), der.After)
		default:
			fmt.Fprintf(w, "       = %s %s: %s (unchanged)\n", der.Rule, der.Field, der.After)
		}
	}

	for _, u := range d.Updates {
		if u.OK() {
			fmt.Fprintf(w, "       ✓ %s -> app %s record %s %s", u.Rule, u.AppID, u.RecordID, u.Fields)
			if u.Revision != "" {
				fmt.Fprintf(w, " revision %s", u.Revision)
			}
			fmt.Fprintln(w)
		} else {
			fmt.Fprintf(w, "       ✗ %s -> app %s record %s %s: %s\n", u.Rule, u.AppID, u.RecordID, u.Fields, u.Error)
		}
		if verbose {
			fmt.Fprintf(w, "         key: %s\n", truncateID(u.Key))
		}
	}
}

func orAbsent(s string) string {
	if s == "" {
		return "(absent)"
	}
	return s
}

// truncateID shortens long ids and keys for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16] + "..."
}
