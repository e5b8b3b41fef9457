package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rendis/assertflow/internal/assertion"
	"github.com/rendis/assertflow/internal/execctx"
	"github.com/rendis/assertflow/pkg/schema"
)

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow-file>...",
		Short: "Validate workflow files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, false, func(_ context.Context, a *app) error {
				w := cmd.OutOrStdout()
				failed := 0
				for _, path := range args {
					loaded, err := a.loader.LoadFile(path)
					if err != nil {
						failed++
						writeLoadError(w, path, err)
						continue
					}
					def := loaded.Definition
					fmt.Fprintf(w, "ok: %s: workflow %q, %d steps, dialect %s\n",
						path, def.Name, len(def.Steps), a.effectiveDialect(def))
					writeWarnings(w, path, loaded.Warnings)
				}
				if failed > 0 {
					return &exitError{code: exitFailure, err: fmt.Errorf("%d of %d workflows are invalid", failed, len(args))}
				}
				return nil
			})
		},
	}
}

func (a *app) effectiveDialect(def *schema.WorkflowDefinition) schema.Dialect {
	if def.Dialect != "" {
		return def.Dialect
	}
	return a.cfg.Dialect
}

// writeLoadError lists every validation issue carried by err.
func writeLoadError(w io.Writer, path string, err error) {
	var se *schema.Error
	if errors.As(err, &se) {
		if issues, ok := se.Details["errors"].([]schema.ValidationIssue); ok && len(issues) > 0 {
			fmt.Fprintf(w, "invalid: %s\n", path)
			for _, issue := range issues {
				fmt.Fprintf(w, "  %s\n", issue.String())
			}
			return
		}
	}
	fmt.Fprintf(w, "invalid: %s: %v\n", path, err)
}

func (c *cli) checkCmd() *cobra.Command {
	var (
		vars     []string
		varsFile string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "check <expression>",
		Short: "Evaluate one condition against a context",
		Long: "Evaluate a condition, in the --dialect language, the way a step's\nbefore-condition is checked. " +
			"The exit status is 0 when it holds and 2 when it is violated.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := collectVars(varsFile, vars)
			if err != nil {
				return err
			}
			ctxVars, err := execctx.New(values)
			if err != nil {
				return err
			}
			return c.withApp(cmd, false, func(_ context.Context, a *app) error {
				checker, err := assertion.ForDialect(a.dialects, a.cfg.Dialect)
				if err != nil {
					return err
				}

				verdict := checker.Check(schema.SideBefore, &schema.Assertion{Before: args[0]}, ctxVars)
				w := cmd.OutOrStdout()
				if asJSON {
					if verdict.Satisfied {
						verdict.Expression = args[0]
					}
					if err := writeJSON(w, verdict); err != nil {
						return err
					}
				} else {
					writeVerdict(w, args[0], verdict)
				}
				if !verdict.Satisfied {
					return &exitError{code: exitAssertionFailed}
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&vars, "var", nil, "Variable as name=value (repeatable)")
	f.StringVar(&varsFile, "vars-file", "", "JSON or YAML file of variables")
	f.BoolVar(&asJSON, "json", false, "Print the verdict as JSON")
	return cmd
}

func writeVerdict(w io.Writer, expression string, v schema.Verdict) {
	if v.Satisfied {
		fmt.Fprintf(w, "holds: %s\n", expression)
		return
	}
	fmt.Fprintf(w, "violated: %s\n", expression)
	if v.Err != nil {
		fmt.Fprintf(w, "  error: %s\n", v.Err.Error())
	}
	writeContext(w, v.Bindings)
}
