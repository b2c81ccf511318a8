package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/durable/internal/queue"
)

// RequeueResult is what requeue reports.
type RequeueResult struct {
	Stream string `json:"stream"`
	Key    string `json:"key"`
}

// Text renders the result for humans.
func (r RequeueResult) Text() string {
	return fmt.Sprintf("Requeued %s#%s\n", r.Stream, r.Key)
}

// NewRequeueCommand creates the requeue command.
func NewRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requeue <stream> <key>",
		Short: "Make a parked event deliverable again",
		Long: `Make a parked (or retry-deferred) event visible again with a fresh retry
budget. Stream and key are shown by "durable observe".

Example:
  durable requeue checkout/invocations o1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return requeue(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func requeue(opts *RootOptions, stream, key string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts, f, diagWriter(cmd, opts))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.runtime.Requeue(ctx, stream, key); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return f.Fail(ExitFailure, CodeNotFound, fmt.Sprintf("no event %s#%s", stream, key), nil)
		}
		return f.Fail(ExitCommandError, CodeBackend, "failed to requeue", err)
	}
	return f.Success(RequeueResult{Stream: stream, Key: key})
}
