package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/assertflow/internal/store"
	"github.com/rendis/assertflow/pkg/schema"
)

const depositYAML = `
name: deposit
vars:
  balance: 0
steps:
  - id: deposit
    action: vars.set
    params:
      values:
        balance: 100
    assertion:
      before: balance >= 0
      after: balance = 100
`

const overdraftYAML = `
name: overdraft
steps:
  - id: withdraw
    action: vars.set
    params:
      values:
        balance: -10
    assertion:
      after: balance >= 0
`

// execute runs the root command with a throwaway HOME so no user config
// or history leaks into the test.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func requireExitCode(t *testing.T, err error, code int) {
	t.Helper()
	var exit *exitError
	require.True(t, errors.As(err, &exit), "expected exitError, got %v", err)
	assert.Equal(t, code, exit.code)
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"n=3", "ok=true", "s=hello", `q="3"`, "e=", "list=[1,2]", " spaced = x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"n":      float64(3),
		"ok":     true,
		"s":      "hello",
		"q":      "3",
		"e":      "",
		"list":   "[1,2]",
		"spaced": "x",
	}, vars)

	_, err = parseVars([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseVars([]string{"=x"})
	assert.Error(t, err)
}

func TestCollectVars(t *testing.T) {
	file := writeFile(t, t.TempDir(), "vars.yaml", "a: 1\nb: from-file\n")

	vars, err := collectVars(file, []string{"b=from-flag"})
	require.NoError(t, err)
	assert.Equal(t, 1, vars["a"])
	assert.Equal(t, "from-flag", vars["b"])

	_, err = collectVars(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func newConfigCmd(t *testing.T) (*cobra.Command, *viper.Viper) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	require.NoError(t, setupFlags(cmd, v))
	return cmd, v
}

func TestLoadConfigDefaults(t *testing.T) {
	_, v := newConfigCmd(t)

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Equal(t, schema.DialectNative, cfg.Dialect)
	assert.Zero(t, cfg.Timeout)
	assert.Equal(t, "history.db", filepath.Base(cfg.DBPath))
}

func TestLoadConfigPrecedence(t *testing.T) {
	cmd, v := newConfigCmd(t)
	file := writeFile(t, t.TempDir(), "assertflow.yaml", "log-level: debug\npool-size: 2\ndialect: cel\ntimeout: 5s\n")

	require.NoError(t, cmd.PersistentFlags().Set("config", file))
	require.NoError(t, cmd.PersistentFlags().Set("dialect", "expr"))
	t.Setenv("ASSERTFLOW_POOL_SIZE", "8")

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)           // file over default
	assert.Equal(t, 8, cfg.PoolSize)                 // env over file
	assert.Equal(t, schema.DialectExpr, cfg.Dialect) // flag over file
	assert.Equal(t, "5s", cfg.Timeout.String())
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name  string
		flag  string
		value string
	}{
		{"pool size", "pool-size", "0"},
		{"dialect", "dialect", "lua"},
		{"timeout", "timeout", "-1s"},
		{"missing config file", "config", "/nonexistent/assertflow.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, v := newConfigCmd(t)
			require.NoError(t, cmd.PersistentFlags().Set(tt.flag, tt.value))
			_, err := loadConfig(v)
			assert.Error(t, err)
		})
	}
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, exitOK, exitCodeFor(schema.OutcomeCompleted))
	assert.Equal(t, exitAssertionFailed, exitCodeFor(schema.OutcomeAssertionFailed))
	assert.Equal(t, exitStepFailed, exitCodeFor(schema.OutcomeStepFailed))
	assert.Equal(t, exitCancelled, exitCodeFor(schema.OutcomeCancelled))
	assert.Equal(t, exitFailure, exitCodeFor("unknown"))
}

func TestRunCommandCompleted(t *testing.T) {
	path := writeFile(t, t.TempDir(), "deposit.yaml", depositYAML)

	out, err := execute(t, "run", path, "--db-path=")
	require.NoError(t, err)
	assert.Contains(t, out, `completed: workflow "deposit"`)
	assert.Contains(t, out, "balance = 100")
}

func TestRunCommandAssertionFailed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "overdraft.yaml", overdraftYAML)

	out, err := execute(t, "run", path, "--db-path=")
	requireExitCode(t, err, exitAssertionFailed)
	assert.Contains(t, out, "assertion failed")
	assert.Contains(t, out, "balance = -10")
}

func TestRunCommandVarsAndJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "deposit.yaml", depositYAML)

	out, err := execute(t, "run", path, "--db-path=", "--json", "--var", "balance=-1")
	requireExitCode(t, err, exitAssertionFailed)

	var res runResult
	require.NoError(t, json.Unmarshal([]byte(out[strings.Index(out, "{"):]), &res))
	assert.Equal(t, path, res.File)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, schema.OutcomeAssertionFailed, res.Outcome.Kind)
	require.NotNil(t, res.Report)
	assert.Equal(t, "balance >= 0", res.Report.Expression)
	assert.Equal(t, 1, res.Attempts)
}

func TestRunCommandFrom(t *testing.T) {
	path := writeFile(t, t.TempDir(), "deposit.yaml", depositYAML)

	// Resuming skips the workflow's default vars, so balance is unbound.
	out, err := execute(t, "run", path, "--db-path=", "--from", "0")
	requireExitCode(t, err, exitAssertionFailed)
	assert.Contains(t, out, "unbound variable")

	out, err = execute(t, "run", path, "--db-path=", "--from", "1", "--var", "balance=7")
	require.NoError(t, err)
	assert.Contains(t, out, "balance = 7")
}

func TestRunCommandRetry(t *testing.T) {
	path := writeFile(t, t.TempDir(), "overdraft.yaml", overdraftYAML)

	out, err := execute(t, "run", path, "--db-path=", "--attempts", "3", "--delay", "1ms")
	requireExitCode(t, err, exitAssertionFailed)
	assert.Contains(t, out, "attempts: 3")
}

func TestRunCommandBatch(t *testing.T) {
	dir := t.TempDir()
	ok := writeFile(t, dir, "deposit.yaml", depositYAML)
	bad := writeFile(t, dir, "overdraft.yaml", overdraftYAML)

	out, err := execute(t, "run", ok, bad, "--db-path=", "--pool-size", "2")
	requireExitCode(t, err, exitAssertionFailed)
	assert.Contains(t, out, "== "+ok)
	assert.Contains(t, out, "== "+bad)
	assert.Less(t, strings.Index(out, "== "+ok), strings.Index(out, "== "+bad))

	_, err = execute(t, "run", ok, bad, "--db-path=", "--from", "0")
	assert.Error(t, err)
}

func TestRunCommandInvalidWorkflow(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "name: bad\nsteps:\n  - id: a\n    assertion:\n      before: x == 1\n")

	_, err := execute(t, "run", path, "--db-path=")
	require.Error(t, err)
	var exit *exitError
	assert.False(t, errors.As(err, &exit))
}

func TestHistoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	wf := writeFile(t, dir, "deposit.yaml", depositYAML)
	db := "--db-path=" + filepath.Join(dir, "history.db")

	_, err := execute(t, "run", wf, db)
	require.NoError(t, err)

	out, err := execute(t, "history", db)
	require.NoError(t, err)
	assert.Contains(t, out, "WORKFLOW")
	assert.Contains(t, out, "deposit")

	out, err = execute(t, "history", db, "--json", "--kind", "completed")
	require.NoError(t, err)
	var runs []store.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	runID := runs[0].ID

	out, err = execute(t, "history", "show", runID, db)
	require.NoError(t, err)
	assert.Contains(t, out, "completed: workflow")
	assert.Contains(t, out, schema.EventPhaseStarted)

	out, err = execute(t, "diagram", wf, db, "--run", runID, "--format", "ascii")
	require.NoError(t, err)
	assert.Contains(t, out, "[OK]")

	_, err = execute(t, "history", "vacuum", db)
	require.NoError(t, err)

	out, err = execute(t, "history", "delete", runID, db)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted "+runID)

	_, err = execute(t, "history", "show", runID, db)
	assert.Error(t, err)
}

func TestHistoryDisabled(t *testing.T) {
	_, err := execute(t, "history", "--db-path=")
	assert.ErrorContains(t, err, "history is disabled")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	ok := writeFile(t, dir, "deposit.yaml", depositYAML)
	bad := writeFile(t, dir, "bad.yaml", "name: bad\nsteps:\n  - id: a\n  - id: a\n")

	out, err := execute(t, "validate", ok)
	require.NoError(t, err)
	assert.Contains(t, out, `ok: `+ok+`: workflow "deposit", 1 steps, dialect native`)

	out, err = execute(t, "validate", ok, bad)
	requireExitCode(t, err, exitFailure)
	assert.Contains(t, out, "invalid: "+bad)
}

func TestCheckCommand(t *testing.T) {
	out, err := execute(t, "check", "x > 1", "--var", "x=2")
	require.NoError(t, err)
	assert.Equal(t, "holds: x > 1\n", out)

	out, err = execute(t, "check", "x > 1", "--var", "x=0")
	requireExitCode(t, err, exitAssertionFailed)
	assert.Contains(t, out, "violated: x > 1")
	assert.Contains(t, out, "x = 0")

	out, err = execute(t, "check", "x > 1 && name == 'bob'", "--dialect", "expr", "--var", "x=2", "--var", "name=bob")
	require.NoError(t, err)
	assert.Contains(t, out, "holds")

	out, err = execute(t, "check", "missing", "--json")
	requireExitCode(t, err, exitAssertionFailed)
	var verdict schema.Verdict
	require.NoError(t, json.Unmarshal([]byte(out), &verdict))
	require.NotNil(t, verdict.Err)
	assert.Equal(t, schema.EvalUnboundVariable, verdict.Err.Kind)
}

func TestDiagramCommand(t *testing.T) {
	dir := t.TempDir()
	wf := writeFile(t, dir, "deposit.yaml", depositYAML)

	out, err := execute(t, "diagram", wf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph TD"))

	_, err = execute(t, "diagram", wf, "--format", "png")
	assert.ErrorContains(t, err, "--output")

	png := filepath.Join(dir, "deposit.png")
	_, err = execute(t, "diagram", wf, "--format", "png", "-o", png)
	require.NoError(t, err)
	data, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.Equal(t, "PNG", string(data[1:4]))

	_, err = execute(t, "diagram", wf, "--format", "gif")
	assert.Error(t, err)
}

func TestScheduleCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "deposit.yaml", depositYAML)
	schedules := writeFile(t, dir, "schedules.yaml", `
schedules:
  - name: nightly-deposit
    cron: "0 2 * * *"
    workflow: deposit.yaml
`)

	out, err := execute(t, "schedule", schedules, "--db-path=", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "nightly-deposit")
	assert.Contains(t, out, "0 2 * * *")

	out, err = execute(t, "schedule", schedules, "--db-path=", "--run-now", "nightly-deposit")
	require.NoError(t, err)
	assert.Contains(t, out, `completed: workflow "deposit"`)

	_, err = execute(t, "schedule", schedules, "--db-path=", "--run-now", "unknown")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}
