package cli

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/workflow"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Key string // optional - specific instance only
}

// ReplayInstanceResult is the replay verdict for one suspended instance.
type ReplayInstanceResult struct {
	Key           string   `json:"key"`
	Steps         int      `json:"steps"`
	Status        string   `json:"status"` // suspended|completed|divergent|failed
	Calls         []string `json:"calls,omitempty"`
	Output        string   `json:"output,omitempty"`
	Error         string   `json:"error,omitempty"`
	Deterministic bool     `json:"deterministic"`
	History       string   `json:"history,omitempty"` // digest of the replayed step log
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Workflow  string                 `json:"workflow"`
	Instances []ReplayInstanceResult `json:"instances"`
	Healthy   bool                   `json:"healthy"`
}

// Text renders one line per instance.
func (r ReplayResult) Text() string {
	var b strings.Builder
	if len(r.Instances) == 0 {
		fmt.Fprintf(&b, "No suspended instances of %s.\n", r.Workflow)
		return b.String()
	}
	for _, inst := range r.Instances {
		mark := "✓"
		if inst.Status == "divergent" || !inst.Deterministic {
			mark = "✗"
		}
		fmt.Fprintf(&b, "%s %s/%s: %s after %d step(s)", mark, r.Workflow, inst.Key, inst.Status, inst.Steps)
		switch {
		case len(inst.Calls) > 0:
			fmt.Fprintf(&b, ", would call %s", strings.Join(inst.Calls, ", "))
		case inst.Output != "":
			fmt.Fprintf(&b, ", output %s", inst.Output)
		case inst.Error != "":
			fmt.Fprintf(&b, ": %s", inst.Error)
		}
		if !inst.Deterministic {
			b.WriteString(" (non-deterministic)")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <workflow>",
		Short: "Replay suspended instances and verify determinism",
		Long: `Replay the step log of every suspended instance of a workflow against the
registered code, twice, without side effects. Reports where each instance
stands, and flags instances whose history no longer matches the code
(divergent) or whose two replays differ (non-deterministic).

Exit codes:
  0 - All instances replay cleanly
  1 - Divergence or non-determinism detected
  2 - Command error (unknown workflow, backend unreachable, etc.)

Examples:
  durable replay checkout
  durable replay checkout --key o1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Key, "key", "", "replay specific instance only")

	return cmd
}

func runReplay(opts *ReplayOptions, name string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts.RootOptions, f, diagWriter(cmd, opts.RootOptions))
	if err != nil {
		return err
	}
	defer s.Close()

	def, ok := s.runtime.Definition(name)
	if !ok {
		return f.Fail(ExitCommandError, CodeUnknownTarget, "unknown workflow "+name, nil)
	}

	snap, err := s.runtime.Observe(ctx, name)
	if err != nil {
		return f.Fail(ExitCommandError, CodeBackend, "failed to read step logs", err)
	}

	result := ReplayResult{Workflow: name, Instances: []ReplayInstanceResult{}, Healthy: true}
	for _, inst := range snap.Instances {
		if opts.Key != "" && inst.Key != opts.Key {
			continue
		}
		r := replayInstance(def, inst.Key, inst.Steps)
		f.VerboseLog("replayed %s/%s: %s", name, inst.Key, r.Status)
		if r.Status == "divergent" || !r.Deterministic {
			result.Healthy = false
		}
		result.Instances = append(result.Instances, r)
	}

	if opts.Key != "" && len(result.Instances) == 0 {
		return f.Fail(ExitFailure, CodeNotFound, fmt.Sprintf("no suspended instance %s/%s", name, opts.Key), nil)
	}

	if err := f.Success(result); err != nil {
		return err
	}
	if !result.Healthy {
		exitErr := NewExitError(ExitFailure, "replay found divergent or non-deterministic instances")
		exitErr.Reported = true
		return exitErr
	}
	return nil
}

// replayInstance runs the definition twice over records and compares the
// two attempts.
func replayInstance(def workflow.Runnable, key string, records []ir.StepRecord) ReplayInstanceResult {
	first := attemptOnce(def, key, records)
	second := attemptOnce(def, key, records)

	first.Deterministic = reflect.DeepEqual(first, second)
	if raw, err := json.Marshal(records); err == nil {
		first.History, _ = ir.PayloadDigest(raw)
	}
	return first
}

func attemptOnce(def workflow.Runnable, key string, records []ir.StepRecord) ReplayInstanceResult {
	r := ReplayInstanceResult{Key: key, Steps: len(records)}

	attempt, err := def.Execute(key, records)
	if err != nil {
		r.Status = "failed"
		if workflow.IsDivergence(err) {
			r.Status = "divergent"
		}
		r.Error = err.Error()
		return r
	}

	if out, ok := attempt.Outcome.Value(); ok {
		r.Status = "completed"
		r.Output = string(out)
		return r
	}

	r.Status = "suspended"
	for _, c := range attempt.Calls {
		r.Calls = append(r.Calls, fmt.Sprintf("%s(%s)", c.Target, c.Input))
	}
	return r
}
