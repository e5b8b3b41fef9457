package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rendis/assertflow/internal/engine"
	"github.com/rendis/assertflow/internal/loader"
	"github.com/rendis/assertflow/pkg/schema"
)

type runOptions struct {
	vars     []string
	varsFile string
	from     int
	retry    engine.RetryPolicy
	json     bool
}

// runResult is the JSON form of one run.
type runResult struct {
	File     string             `json:"file"`
	Outcome  *schema.RunOutcome `json:"outcome,omitempty"`
	Report   *schema.Report     `json:"report,omitempty"`
	Attempts int                `json:"attempts,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func (c *cli) runCmd() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run <workflow-file>...",
		Short: "Run workflows and report their outcome",
		Long: "Run one workflow, or several concurrently on a pool of --pool-size workers.\n" +
			"The exit status is 0 when every run completed, 2 on an assertion failure,\n" +
			"3 on a step failure and 4 when a run was cancelled.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, err := collectVars(opts.varsFile, opts.vars)
			if err != nil {
				return err
			}
			if opts.from >= 0 && len(args) > 1 {
				return fmt.Errorf("--from applies to a single workflow")
			}
			return c.withApp(cmd, true, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				loaded := make([]*loader.Loaded, len(args))
				for i, path := range args {
					l, err := a.loader.LoadFile(path)
					if err != nil {
						return err
					}
					writeWarnings(cmd.ErrOrStderr(), path, l.Warnings)
					loaded[i] = l
				}

				if len(loaded) == 1 {
					return a.runSingle(ctx, cmd, args[0], loaded[0].Definition, initial, opts)
				}
				return a.runBatch(ctx, cmd, args, loaded, initial, opts)
			})
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&opts.vars, "var", nil, "Initial variable as name=value (repeatable)")
	f.StringVar(&opts.varsFile, "vars-file", "", "JSON or YAML file of initial variables")
	f.IntVar(&opts.from, "from", -1, "Resume at this step index with exactly the given variables")
	f.IntVar(&opts.retry.MaxAttempts, "attempts", 1, "Total attempts for a run that did not complete")
	f.StringVar(&opts.retry.Backoff, "backoff", "none", "Delay growth between attempts: none (fixed), constant, linear, exponential")
	f.StringVar(&opts.retry.Delay, "delay", "1s", "Base delay between attempts")
	f.StringVar(&opts.retry.MaxDelay, "max-delay", "", "Upper bound on the delay between attempts")
	f.BoolVar(&opts.json, "json", false, "Print results as JSON")
	return cmd
}

func (a *app) runSingle(ctx context.Context, cmd *cobra.Command, file string, def *schema.WorkflowDefinition, initial map[string]any, opts runOptions) error {
	out, attempts, err := engine.Retry(ctx, &opts.retry, func(ctx context.Context, n int) (*schema.RunOutcome, error) {
		if n > 0 {
			a.logger.Info("retrying run", zap.String("workflow", def.Name), zap.Int("attempt", n+1))
		}
		runCtx, cancel := a.runContext(ctx)
		defer cancel()
		if opts.from >= 0 {
			return a.engine.RunFrom(runCtx, def, opts.from, initial)
		}
		return a.engine.Run(runCtx, def, initial)
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if opts.json {
		if err := writeJSON(w, runResult{File: file, Outcome: out, Report: out.Report(), Attempts: attempts}); err != nil {
			return err
		}
	} else {
		writeOutcome(w, out)
		if attempts > 1 {
			fmt.Fprintf(w, "  attempts: %d\n", attempts)
		}
	}

	if code := exitCodeFor(out.Kind); code != exitOK {
		return &exitError{code: code}
	}
	return nil
}

func (a *app) runBatch(ctx context.Context, cmd *cobra.Command, files []string, loaded []*loader.Loaded, initial map[string]any, opts runOptions) error {
	items := make([]engine.BatchItem, len(loaded))
	for i, l := range loaded {
		items[i] = engine.BatchItem{Workflow: l.Definition, Initial: initial}
	}

	ctx, cancel := a.runContext(ctx)
	defer cancel()
	results := a.engine.Batch(ctx, items, a.cfg.PoolSize)

	w := cmd.OutOrStdout()
	code := exitOK
	report := make([]runResult, len(results))
	for i, res := range results {
		r := runResult{File: files[res.Index], Outcome: res.Outcome}
		switch {
		case res.Err != nil:
			r.Error = res.Err.Error()
			code = max(code, exitFailure)
		case res.Outcome != nil:
			r.Report = res.Outcome.Report()
			code = max(code, exitCodeFor(res.Outcome.Kind))
		}
		report[i] = r

		if opts.json {
			continue
		}
		fmt.Fprintf(w, "== %s\n", r.File)
		if r.Error != "" {
			fmt.Fprintf(w, "error: %s\n", r.Error)
			continue
		}
		writeOutcome(w, res.Outcome)
	}

	if opts.json {
		if err := writeJSON(w, report); err != nil {
			return err
		}
	}
	if code != exitOK {
		return &exitError{code: code}
	}
	return nil
}

// runContext applies the configured per-run timeout.
func (a *app) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, a.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}
