package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// AwaitOptions holds flags for the await command.
type AwaitOptions struct {
	*RootOptions
	Timeout time.Duration
}

// AwaitResult is what await reports.
type AwaitResult struct {
	Key    string          `json:"key"`
	Output json.RawMessage `json:"output"`
}

// Text renders the output alone so it can be piped.
func (r AwaitResult) Text() string {
	return fmt.Sprintf("%s\n", r.Output)
}

// NewAwaitCommand creates the await command.
func NewAwaitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AwaitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "await <key>",
		Short: "Wait for the output of a submitted instance",
		Long: `Wait for the output of an instance submitted with "durable submit" and
remove it from the inbox.

Example:
  durable await o1 --timeout 5m`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return await(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait (0 waits forever)")

	return cmd
}

func await(opts *AwaitOptions, key string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts.RootOptions, f, diagWriter(cmd, opts.RootOptions))
	if err != nil {
		return err
	}
	defer s.Close()

	out, err := awaitOutput(ctx, s, key, opts.Timeout)
	if err != nil {
		return f.Fail(ExitFailure, CodeTimeout, "no output for "+key, err)
	}
	return f.Success(AwaitResult{Key: key, Output: out})
}
