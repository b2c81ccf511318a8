package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/workflow"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Key     string
	Await   bool
	Timeout time.Duration
}

// SubmitResult is what submit reports.
type SubmitResult struct {
	Target  string          `json:"target"`
	Key     string          `json:"key"`
	ReplyTo string          `json:"reply_to"`
	Output  json.RawMessage `json:"output,omitempty"`
}

// Text renders the result for humans.
func (r SubmitResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Submitted %s/%s (reply to %s)\n", r.Target, r.Key, r.ReplyTo)
	if r.Output != nil {
		fmt.Fprintf(&b, "Output: %s\n", r.Output)
	}
	return b.String()
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <target> <input-json>",
		Short: "Submit an invocation of a workflow or service",
		Long: `Submit an invocation of a registered workflow or service.

The input is validated before anything is written. The output is delivered
to the shared inbox under the instance key; pass --await to wait for it here
or collect it later with "durable await <key>". Without --key a fresh
UUIDv7 key is generated.

Examples:
  durable submit checkout '{"amount":10}' --key o1
  durable submit quote 20 --await --timeout 1m`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Key, "key", "", "instance key (default: generated)")
	cmd.Flags().BoolVar(&opts.Await, "await", false, "wait for the output")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long --await waits")

	return cmd
}

func submit(opts *SubmitOptions, target, input string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	ctx := commandContext(cmd)

	if !json.Valid([]byte(input)) {
		return f.Fail(ExitCommandError, CodeBadInput, "input is not valid JSON", nil)
	}

	s, err := openSession(ctx, opts.RootOptions, f, diagWriter(cmd, opts.RootOptions))
	if err != nil {
		return err
	}
	defer s.Close()

	key := opts.Key
	if key == "" {
		key = s.runtime.NewKey()
	}
	replyTo := engine.Inbox(key)

	if err := s.runtime.Submit(ctx, target, key, json.RawMessage(input), replyTo); err != nil {
		switch {
		case errors.Is(err, engine.ErrUnknownTarget):
			return f.Fail(ExitCommandError, CodeUnknownTarget, "unknown target "+target, nil)
		case errors.Is(err, workflow.ErrBadInput):
			return f.Fail(ExitCommandError, CodeBadInput, "input rejected", err)
		default:
			return f.Fail(ExitCommandError, CodeBackend, "failed to submit", err)
		}
	}
	f.VerboseLog("submitted %s/%s", target, key)

	result := SubmitResult{Target: target, Key: key, ReplyTo: replyTo.String()}
	if opts.Await {
		out, err := awaitOutput(ctx, s, key, opts.Timeout)
		if err != nil {
			return f.Fail(ExitFailure, CodeTimeout, "no output for "+key, err)
		}
		result.Output = out
	}
	return f.Success(result)
}

// awaitOutput pops the output for key from the inbox.
func awaitOutput(ctx context.Context, s *session, key string, timeout time.Duration) (json.RawMessage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := engine.AwaitResult(ctx, s.backend, s.cfg.PollInterval, engine.Inbox(key))
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// commandContext returns the command's context, or Background outside of
// Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// diagWriter is where short-lived commands log: stderr with --verbose,
// nowhere otherwise.
func diagWriter(cmd *cobra.Command, opts *RootOptions) io.Writer {
	if opts.Verbose {
		return cmd.ErrOrStderr()
	}
	return io.Discard
}
