package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/demo"
	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/queue"
	"github.com/roach88/durable/internal/store"
	"github.com/roach88/durable/internal/workflow"
)

// cliEnv runs commands against a SQLite file of its own, isolated from any
// DURABLE_* variables of the environment running the tests.
type cliEnv struct {
	t  *testing.T
	db string
}

func newEnv(t *testing.T) *cliEnv {
	t.Helper()
	for _, name := range []string{
		"DURABLE_BACKEND", "DURABLE_DB", "DURABLE_POSTGRES_DSN", "DURABLE_MAX_STEPS",
		"DURABLE_RETRY_MAX_ATTEMPTS", "DURABLE_LOG_LEVEL", "DURABLE_LOG_FORMAT", "DURABLE_METRICS_ADDR",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("DURABLE_POLL_INTERVAL", "20ms")
	return &cliEnv{t: t, db: filepath.Join(t.TempDir(), "durable.db")}
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	return e.runContext(context.Background(), io.Discard, args...)
}

func (e *cliEnv) runContext(ctx context.Context, stderr io.Writer, args ...string) (string, error) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(stderr)
	cmd.SetArgs(append(args, "--db", e.db))
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

// withStore opens the env's database directly.
func (e *cliEnv) withStore(fn func(st *store.Store)) {
	e.t.Helper()
	st, err := store.Open(e.db)
	require.NoError(e.t, err)
	defer st.Close()
	fn(st)
}

func quietLogger() engine.Option {
	return engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// drain processes everything pending with the demo workflows.
func (e *cliEnv) drain() {
	e.t.Helper()
	e.withStore(func(st *store.Store) {
		rt := engine.NewRuntime(st, quietLogger())
		require.NoError(e.t, demo.Register(rt))
		_, err := rt.Drain(context.Background())
		require.NoError(e.t, err)
	})
}

func TestSubmitDrainAwait(t *testing.T) {
	env := newEnv(t)

	out, err := env.run("submit", "checkout", `{"amount":10}`, "--key", "o1")
	require.NoError(t, err)
	assert.Equal(t, "Submitted checkout/o1 (reply to durable/inbox#o1)\n", out)

	env.drain()

	out, err = env.run("await", "o1", "--timeout", "2s")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	// Awaiting removes the output.
	_, err = env.run("await", "o1", "--timeout", "50ms")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSubmitGeneratedKey(t *testing.T) {
	env := newEnv(t)

	out, err := env.run("submit", "quote", "20", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   SubmitResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "quote", resp.Data.Target)
	assert.Len(t, resp.Data.Key, 36)
	assert.Equal(t, "durable/inbox#"+resp.Data.Key, resp.Data.ReplyTo)
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		code     string
		exitCode int
	}{
		{"unknown target", []string{"submit", "refund", `{}`}, CodeUnknownTarget, ExitCommandError},
		{"schema violation", []string{"submit", "checkout", `{"amount":-1}`}, CodeBadInput, ExitCommandError},
		{"wrong type", []string{"submit", "quote", `"twenty"`}, CodeBadInput, ExitCommandError},
		{"invalid json", []string{"submit", "quote", `{`}, CodeBadInput, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t)
			out, err := env.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))
			assert.True(t, IsReported(err))
			assert.Contains(t, out, "Error ["+tt.code+"]")
		})
	}
}

func TestSubmitAwaitWithRun(t *testing.T) {
	env := newEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	done := make(chan error, 1)
	var runOut string
	go func() {
		cmd := NewRootCommand()
		buf := &bytes.Buffer{}
		cmd.SetOut(buf)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"run", "--db", env.db})
		close(started)
		err := cmd.ExecuteContext(ctx)
		runOut = buf.String()
		done <- err
	}()
	<-started

	out, err := env.run("submit", "checkout", `{"amount":200}`, "--key", "o9", "--await", "--timeout", "10s")
	require.NoError(t, err)
	assert.Contains(t, out, "Output: false")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.Contains(t, runOut, "Runtime started. Serving: checkout, priceCalc, quote, riskCheck, shipQuote, taxQuote")
}

func TestObserve(t *testing.T) {
	env := newEnv(t)

	_, err := env.run("submit", "checkout", `{"amount":10}`, "--key", "o1")
	require.NoError(t, err)

	out, err := env.run("observe", "checkout", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data ObserveResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Workflows, 1)
	snap := resp.Data.Workflows[0]
	assert.Equal(t, "checkout", snap.Workflow)
	require.Len(t, snap.Invocations, 1)
	assert.Equal(t, "o1", snap.Invocations[0].Key)
	assert.Empty(t, snap.Instances)

	out, err = env.run("observe")
	require.NoError(t, err)
	assert.Contains(t, out, "Workflow checkout: 1 invocation(s), 0 result(s), 0 suspended instance(s)")
	assert.Contains(t, out, "Workflow quote: 0 invocation(s)")
	assert.Contains(t, out, "ready")
}

func TestObserveUnknown(t *testing.T) {
	env := newEnv(t)

	out, err := env.run("observe", "priceCalc")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_UNKNOWN_TARGET]")
}

func TestRequeue(t *testing.T) {
	env := newEnv(t)

	_, err := env.run("submit", "checkout", `{"amount":10}`, "--key", "o1")
	require.NoError(t, err)
	env.withStore(func(st *store.Store) {
		require.NoError(t, st.Park(context.Background(), "checkout/invocations", "o1", "manual"))
	})

	out, err := env.run("observe", "checkout")
	require.NoError(t, err)
	assert.Contains(t, out, "parked")

	out, err = env.run("requeue", "checkout/invocations", "o1")
	require.NoError(t, err)
	assert.Equal(t, "Requeued checkout/invocations#o1\n", out)

	out, err = env.run("requeue", "checkout/invocations", "o2")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_NOT_FOUND]")
}

func TestReplay(t *testing.T) {
	env := newEnv(t)

	out, err := env.run("replay", "checkout")
	require.NoError(t, err)
	assert.Equal(t, "No suspended instances of checkout.\n", out)

	_, err = env.run("submit", "checkout", `{"amount":10}`, "--key", "o1")
	require.NoError(t, err)
	env.withStore(func(st *store.Store) {
		found, err := engine.New(st, demo.Checkout, quietLogger()).Poll(context.Background())
		require.True(t, found)
		require.NoError(t, err)
	})

	out, err = env.run("replay", "checkout")
	require.NoError(t, err)
	assert.Equal(t, "✓ checkout/o1: suspended after 1 step(s), would call priceCalc({\"amount\":10})\n", out)

	out, err = env.run("replay", "checkout", "--key", "o2")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_NOT_FOUND]")
}

func TestReplayDivergence(t *testing.T) {
	env := newEnv(t)

	// History claims riskCheck answered step 1, where the code calls priceCalc.
	env.withStore(func(st *store.Store) {
		log := workflow.StreamsFor("checkout").StepLog()
		err := st.Update(context.Background(), func(tx queue.Tx) error {
			if err := log.Append(tx, "o1", 0, ir.StepRecord{Index: 0, Source: "checkout", Value: json.RawMessage(`{"amount":10}`)}); err != nil {
				return err
			}
			return log.Append(tx, "o1", 1, ir.StepRecord{Index: 1, Source: "riskCheck", Value: json.RawMessage(`true`)})
		})
		require.NoError(t, err)
	})

	out, err := env.run("replay", "checkout", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Data ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.False(t, resp.Data.Healthy)
	require.Len(t, resp.Data.Instances, 1)
	inst := resp.Data.Instances[0]
	assert.Equal(t, "divergent", inst.Status)
	assert.Equal(t, 2, inst.Steps)
	assert.True(t, inst.Deterministic)
	assert.Contains(t, inst.Error, "replay divergence at step 1")
	assert.Len(t, inst.History, 64)
}

func TestReplayUnknown(t *testing.T) {
	env := newEnv(t)

	_, err := env.run("replay", "riskCheck")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate(t *testing.T) {
	env := newEnv(t)

	out, err := env.run("validate", "checkout", `{"amount":3}`)
	require.NoError(t, err)
	assert.Equal(t, "✓ input valid for checkout\n", out)

	out, err = env.run("validate", "checkout", `{"amount":-3}`)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_BAD_INPUT]")
	assert.Contains(t, out, "amount")

	_, err = env.run("validate", "refund", `{}`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, statErr := os.Stat(env.db)
	assert.True(t, os.IsNotExist(statErr), "validate does not touch the backend")
}

func TestConfigFile(t *testing.T) {
	env := newEnv(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("backend: memory\nlog:\n  level: warn\n"), 0o644))
	out, err := env.run("observe", "quote", "--config", good)
	require.NoError(t, err)
	assert.Equal(t, "Workflow quote: 0 invocation(s), 0 result(s), 0 suspended instance(s)\n", out)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("backend: cassandra\n"), 0o644))
	out, err = env.run("observe", "--config", bad)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_CONFIG]")
}

func TestInvalidFormat(t *testing.T) {
	env := newEnv(t)

	_, err := env.run("observe", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

const (
	demoScenarios = "../demo/testdata/scenarios"
	demoGolden    = "../demo/testdata/golden"
)

func TestTestCommand(t *testing.T) {
	env := newEnv(t)

	out, err := env.run("test", demoScenarios, "--golden-dir", demoGolden)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ checkout_approved")
	assert.Contains(t, out, "✓ quote_fanout")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandUpdate(t *testing.T) {
	env := newEnv(t)
	goldenDir := filepath.Join(t.TempDir(), "golden")

	_, err := env.run("test", demoScenarios, "--update", "--golden-dir", goldenDir)
	require.NoError(t, err)

	// Regenerated traces match the checked-in ones byte for byte.
	for _, name := range []string{"checkout_approved", "checkout_declined", "quote_fanout"} {
		want, err := os.ReadFile(filepath.Join(demoGolden, name+".golden"))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(goldenDir, name+".golden"))
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got), name)
	}
}

func TestTestCommandFilterJSON(t *testing.T) {
	env := newEnv(t)

	out, err := env.run("test", demoScenarios, "--filter", "quote_*", "--golden-dir", demoGolden, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, "quote_fanout", resp.Data.Scenarios[0].Name)
}

func TestTestCommandFailures(t *testing.T) {
	env := newEnv(t)
	dir := t.TempDir()

	scenario := `
name: wrong_total
description: "Expects the wrong price"
submit:
  - target: checkout
    key: o1
    input: { amount: 10 }
expect:
  - key: o1
    output: false
assertions:
  - type: trace_count
    component: priceCalc
    count: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_total.yaml"), []byte(scenario), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0o644))

	out, err := env.run("test", dir)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_total")
	assert.Contains(t, out, "want false, got true")
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "Test Summary: 0 passed, 2 failed, 2 total")

	_, err = env.run("test", filepath.Join(dir, "missing"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
