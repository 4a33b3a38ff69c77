package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/kinrule/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Rules  []string                   `json:"rules,omitempty"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Compile and validate rules",
		Long: `Compile the CUE rules in a directory and check every rule.

All errors are reported, not just the first: missing or unknown kinds,
empty priority lists, incomplete keyword tables, two rules writing the
same field.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := compiler.LoadRules(rulesDir, compiler.LoadModeCollectAll)

	// Nothing could be compiled: the directory itself is the problem.
	if loadResult == nil && len(loadErrors) > 0 {
		code, message := compiler.ErrCodeGeneric, loadErrors[0].Error()
		var loadErr *compiler.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			code, message = loadErr.Code, loadErr.Message
		}
		_ = formatter.Error(code, message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, rulesDir)

	if len(loadErrors) > 0 {
		return outputValidationErrors(formatter, toValidationErrors(loadErrors))
	}

	names := make([]string, len(loadResult.Rules))
	for i, cfg := range loadResult.Rules {
		formatter.VerboseLog("Rule %s: %s -> %s", cfg.Name, cfg.Kind, cfg.TargetField)
		names[i] = cfg.Name
	}

	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Rules: names})
	}
	fmt.Fprintf(formatter.Writer, "✓ All rules valid (%d rule(s))\n", len(names))
	return nil
}

// toValidationErrors flattens loader errors into one reportable list.
func toValidationErrors(errs []error) []compiler.ValidationError {
	out := make([]compiler.ValidationError, 0, len(errs))
	for _, err := range errs {
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) {
			ve := compiler.ValidationError{Field: "rule", Message: loadErr.Message, Code: loadErr.Code}
			if loadErr.Pos.IsValid() {
				ve.Line = loadErr.Pos.Line()
			}
			out = append(out, ve)
			continue
		}
		out = append(out, compiler.ValidationError{Field: "rule", Message: err.Error(), Code: compiler.ErrCodeGeneric})
	}
	return out
}

// outputValidationErrors reports every error and fails with ExitFailure.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error:  &CLIError{Code: errs[0].Code, Message: errs[0].Message},
		}
		if err := formatter.Encode(response); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}
	return failure
}
