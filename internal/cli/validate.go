package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/durable/internal/demo"
	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/store/memory"
)

// ValidateResult is what validate reports on success.
type ValidateResult struct {
	Target string `json:"target"`
	Valid  bool   `json:"valid"`
}

// Text renders the result for humans.
func (r ValidateResult) Text() string {
	return fmt.Sprintf("✓ input valid for %s\n", r.Target)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <target> <input-json>",
		Short: "Check an input against a target without submitting it",
		Long: `Check an input against a registered workflow or service: its input type
and, if it has one, its CUE input schema. Nothing is written.

Exit codes:
  0 - Input is valid
  1 - Input is rejected
  2 - Command error (unknown target, etc.)

Example:
  durable validate checkout '{"amount":-1}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validate(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func validate(opts *RootOptions, target, input string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)

	if !json.Valid([]byte(input)) {
		return f.Fail(ExitFailure, CodeBadInput, "input is not valid JSON", nil)
	}

	// Validation needs the registered targets but no stored state.
	rt := engine.NewRuntime(memory.New())
	if err := demo.Register(rt); err != nil {
		return f.Fail(ExitCommandError, CodeConfig, "failed to register workflows", err)
	}

	if err := rt.Validate(target, json.RawMessage(input)); err != nil {
		if errors.Is(err, engine.ErrUnknownTarget) {
			return f.Fail(ExitCommandError, CodeUnknownTarget, "unknown target "+target, nil)
		}
		return f.Fail(ExitFailure, CodeBadInput, "input rejected", err)
	}
	return f.Success(ValidateResult{Target: target, Valid: true})
}
