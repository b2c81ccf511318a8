package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/durable/internal/engine"
)

// ObserveResult is what observe reports: one snapshot per workflow.
type ObserveResult struct {
	Workflows []engine.Snapshot `json:"workflows"`
}

// Text renders pending items and suspended instances as tables.
func (r ObserveResult) Text() string {
	var b strings.Builder
	for i, snap := range r.Workflows {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Workflow %s: %d invocation(s), %d result(s), %d suspended instance(s)\n",
			snap.Workflow, len(snap.Invocations), len(snap.Results), len(snap.Instances))

		items := append(append([]engine.PendingItem{}, snap.Invocations...), snap.Results...)
		if len(items) > 0 {
			tw := tabwriter.NewWriter(&b, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "  KEY\tSEQ\tATTEMPTS\tSTATE\tLAST ERROR")
			for _, it := range items {
				fmt.Fprintf(tw, "  %s\t%d\t%d\t%s\t%s\n", it.Key, it.Seq, it.Attempts, itemState(it), it.LastError)
			}
			tw.Flush()
		}

		for _, inst := range snap.Instances {
			cb := "-"
			if inst.Callback != nil {
				cb = inst.Callback.String()
			}
			fmt.Fprintf(&b, "  instance %s: %d step(s), reply to %s\n", inst.Key, len(inst.Steps), cb)
		}
	}
	return b.String()
}

func itemState(it engine.PendingItem) string {
	switch {
	case it.Parked:
		return "parked"
	case it.VisibleAt != nil:
		return "retry at " + it.VisibleAt.UTC().Format(time.RFC3339)
	default:
		return "ready"
	}
}

// NewObserveCommand creates the observe command.
func NewObserveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "observe [workflow...]",
		Short: "Show pending events and suspended instances",
		Long: `Show what registered workflows hold in the backend: undelivered
invocations and results (with retry and parked state) and the step logs of
suspended instances. Without arguments every workflow is shown.

Examples:
  durable observe
  durable observe checkout --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return observe(rootOpts, args, cmd)
		},
	}
	return cmd
}

func observe(opts *RootOptions, names []string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts, f, diagWriter(cmd, opts))
	if err != nil {
		return err
	}
	defer s.Close()

	if len(names) == 0 {
		names = s.runtime.Workflows()
	}

	result := ObserveResult{Workflows: make([]engine.Snapshot, 0, len(names))}
	for _, name := range names {
		snap, err := s.runtime.Observe(ctx, name)
		if errors.Is(err, engine.ErrUnknownTarget) {
			return f.Fail(ExitCommandError, CodeUnknownTarget, "unknown workflow "+name, nil)
		}
		if err != nil {
			return f.Fail(ExitCommandError, CodeBackend, "failed to observe "+name, err)
		}
		result.Workflows = append(result.Workflows, snap)
	}
	return f.Success(result)
}
