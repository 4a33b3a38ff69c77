package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/kinrule/internal/compiler"
	"github.com/roach88/kinrule/internal/engine"
	"github.com/roach88/kinrule/internal/ir"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	UpdaterOptions
	Database string

	// IDGenerator overrides the dispatch id generator (tests).
	IDGenerator engine.IDGenerator
}

// ApplyResult is the printed outcome of one dispatch.
type ApplyResult struct {
	DispatchID string        `json:"dispatch_id"`
	Seq        int64         `json:"seq"`
	Event      string        `json:"event"`
	AppID      string        `json:"app"`
	RecordID   string        `json:"record_id,omitempty"`
	DryRun     bool          `json:"dry_run"`
	Changed    ir.Record     `json:"changed"`
	Updates    []ApplyUpdate `json:"updates,omitempty"`
	Skipped    []ApplySkip   `json:"skipped,omitempty"`
}

// ApplyUpdate is one remote write of a dispatch.
type ApplyUpdate struct {
	Rule     string    `json:"rule"`
	AppID    string    `json:"app"`
	RecordID string    `json:"id"`
	Fields   ir.Record `json:"fields"`
	Status   int       `json:"status,omitempty"`
	Revision string    `json:"revision,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ApplySkip is a subscribed rule that did nothing.
type ApplySkip struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <rules-dir> [envelope.json|-]",
		Short: "Dispatch one lifecycle event through the rules",
		Long: `Dispatch one event envelope through the rules and print the result.

The envelope is read from the file argument, or from stdin when it is
omitted or "-":

  {"type": "app.record.create.submit.success", "appId": 12, "recordId": 42,
   "record": {"purchaser_id": {"type": "SINGLE_LINE_TEXT", "value": ""}}}

Remote updates are only sent when --base-url is set; otherwise they are
computed and reported as a dry run.

Examples:
  kinrule apply ./rules event.json
  cat event.json | kinrule apply ./rules --format json
  kinrule apply ./rules event.json --base-url https://example.cybozu.com --db audit.db`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := "-"
			if len(args) == 2 {
				input = args[1]
			}
			return runApply(opts, args[0], input, cmd)
		},
	}

	addUpdaterFlags(cmd, &opts.UpdaterOptions)
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit database (optional)")

	return cmd
}

func runApply(opts *ApplyOptions, rulesDir, input string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	set, err := compiler.LoadRuleSet(rulesDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load rules", err)
	}
	formatter.VerboseLog("Loaded %d rule(s) from %s", len(set), rulesDir)

	env, err := readEnvelope(input, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid envelope", err)
	}

	updater, err := opts.Updater()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid kintone configuration", err)
	}

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	if opts.Database != "" {
		st, clock, err := openAudit(ctx, opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		engineOpts = append(engineOpts, engine.WithRecorder(st), engine.WithClock(clock))
	}

	eng := engine.New(set, updater, engineOpts...)
	res, err := eng.Dispatch(ctx, env)
	if err != nil {
		if engine.IsInvalidInput(err) {
			return WrapExitError(ExitCommandError, "invalid envelope", err)
		}
		return WrapExitError(ExitFailure, "dispatch failed", err)
	}

	result := newApplyResult(res, opts.DryRun())
	if formatter.JSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputApplyText(formatter.Writer, result)
	}

	if failed := len(res.FailedUpdates()); failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d remote update(s) failed", failed))
	}
	return nil
}

// readEnvelope decodes an envelope from a file, or from stdin for "-".
func readEnvelope(input string, stdin io.Reader) (ir.Envelope, error) {
	var data []byte
	var err error
	if input == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(input)
	}
	if err != nil {
		return ir.Envelope{}, err
	}
	if len(data) == 0 {
		return ir.Envelope{}, errors.New("empty input")
	}

	var env ir.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ir.Envelope{}, err
	}
	return env, nil
}

func newApplyResult(res *engine.Result, dryRun bool) ApplyResult {
	out := ApplyResult{
		DispatchID: res.DispatchID,
		Seq:        res.Seq,
		Event:      res.Event.String(),
		AppID:      res.AppID,
		RecordID:   res.RecordID,
		DryRun:     dryRun,
		Changed:    res.Changed(),
	}
	for _, u := range res.Updates {
		au := ApplyUpdate{
			Rule:     u.Rule,
			AppID:    u.Update.AppID,
			RecordID: u.Update.RecordID,
			Fields:   u.Update.Fields,
			Status:   u.Result.Status,
			Revision: u.Result.Revision,
		}
		if u.Result.Err != nil {
			au.Error = u.Result.Err.Error()
		}
		out.Updates = append(out.Updates, au)
	}
	for _, s := range res.Skipped {
		out.Skipped = append(out.Skipped, ApplySkip{Rule: s.Rule, Reason: s.Reason})
	}
	return out
}

func outputApplyText(w io.Writer, r ApplyResult) {
	fmt.Fprintf(w, "Dispatch %s (seq %d)\n", r.DispatchID, r.Seq)
	fmt.Fprintf(w, "  Event:  %s\n", r.Event)
	fmt.Fprintf(w, "  App:    %s\n", r.AppID)
	if r.RecordID != "" {
		fmt.Fprintf(w, "  Record: %s\n", r.RecordID)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Changed ===")
	if len(r.Changed) == 0 {
		fmt.Fprintln(w, "  (no changes)")
	}
	for _, code := range r.Changed.Codes() {
		fmt.Fprintf(w, "  %s = %s\n", code, valueText(r.Changed[code]))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Updates ===")
	if len(r.Updates) == 0 {
		fmt.Fprintln(w, "  (no updates)")
	}
	for _, u := range r.Updates {
		mark := "✓"
		if u.Error != "" {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %s -> app %s record %s:", mark, u.Rule, u.AppID, u.RecordID)
		for _, code := range u.Fields.Codes() {
			fmt.Fprintf(w, " %s=%s", code, valueText(u.Fields[code]))
		}
		switch {
		case u.Error != "":
			fmt.Fprintf(w, " (error: %s)", u.Error)
		case r.DryRun:
			fmt.Fprint(w, " (dry run)")
		case u.Revision != "":
			fmt.Fprintf(w, " (revision %s)", u.Revision)
		}
		fmt.Fprintln(w)
	}

	if len(r.Skipped) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Skipped ===")
		for _, s := range r.Skipped {
			fmt.Fprintf(w, "  - %s: %s\n", s.Rule, s.Reason)
		}
	}
}

// valueText renders a field value for text output.
func valueText(v ir.Value) string {
	data, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
