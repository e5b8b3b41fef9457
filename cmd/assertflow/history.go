package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/assertflow/internal/store"
	"github.com/rendis/assertflow/pkg/schema"
)

type runRow struct {
	ID        string             `header:"RUN"`
	Workflow  string             `header:"WORKFLOW"`
	Status    schema.RunStatus   `header:"STATUS"`
	Kind      schema.OutcomeKind `header:"OUTCOME"`
	StepID    string             `header:"STEP"`
	StartedAt time.Time          `header:"STARTED"`
}

type eventRow struct {
	Sequence  int64        `header:"SEQ"`
	Timestamp time.Time    `header:"TIME"`
	Type      string       `header:"EVENT"`
	StepID    string       `header:"STEP"`
	Phase     schema.Phase `header:"PHASE"`
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		filter store.RunFilter
		kind   string
		status string
		since  time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if kind != "" {
				k := schema.OutcomeKind(kind)
				filter.Kind = &k
			}
			if status != "" {
				s := schema.RunStatus(status)
				filter.Status = &s
			}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			return c.withApp(cmd, true, func(ctx context.Context, a *app) error {
				if err := a.requireHistory(); err != nil {
					return err
				}
				runs, err := a.history.ListRuns(ctx, filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), runs)
				}

				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
					return nil
				}
				rows := make([]runRow, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, runRow{
						ID:        r.ID,
						Workflow:  r.Workflow,
						Status:    r.Status,
						Kind:      r.Kind,
						StepID:    r.StepID,
						StartedAt: r.StartedAt,
					})
				}
				return renderTable(cmd.OutOrStdout(), rows, tableOptions{})
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&filter.Workflow, "workflow", "", "Only runs of this workflow")
	f.StringVar(&kind, "kind", "", "Only runs with this outcome: completed, assertion_failed, step_failed, cancelled")
	f.StringVar(&status, "status", "", "Only runs in this status")
	f.DurationVar(&since, "since", 0, "Only runs started within this duration")
	f.IntVar(&filter.Limit, "limit", 20, "Maximum number of runs")
	f.IntVar(&filter.Offset, "offset", 0, "Number of runs to skip")
	f.BoolVar(&asJSON, "json", false, "Print runs as JSON")

	cmd.AddCommand(c.historyShowCmd(), c.historyDeleteCmd(), c.historyVacuumCmd())
	return cmd
}

func (c *cli) historyShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run with its phase events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, true, func(ctx context.Context, a *app) error {
				if err := a.requireHistory(); err != nil {
					return err
				}
				run, err := a.history.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				events, err := a.history.GetEvents(ctx, run.ID, 0)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(w, map[string]any{"run": run, "events": events})
				}

				fmt.Fprintf(w, "run %s: workflow %q, status %s\n", run.ID, run.Workflow, run.Status)
				if len(run.Outcome) > 0 {
					var out schema.RunOutcome
					if err := json.Unmarshal(run.Outcome, &out); err == nil {
						writeOutcome(w, &out)
					}
				}
				fmt.Fprintln(w, "events:")
				rows := make([]eventRow, 0, len(events))
				for _, e := range events {
					rows = append(rows, eventRow{
						Sequence:  e.Sequence,
						Timestamp: e.Timestamp,
						Type:      e.Type,
						StepID:    e.StepID,
						Phase:     e.Phase,
					})
				}
				return renderTable(w, rows, tableOptions{TimeFormat: time.TimeOnly})
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run and its events as JSON")
	return cmd
}

func (c *cli) historyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Delete recorded runs and their events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, true, func(ctx context.Context, a *app) error {
				if err := a.requireHistory(); err != nil {
					return err
				}
				for _, id := range args {
					if err := a.history.DeleteRun(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

func (c *cli) historyVacuumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim space in the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, true, func(ctx context.Context, a *app) error {
				if err := a.requireHistory(); err != nil {
					return err
				}
				return a.history.Vacuum(ctx)
			})
		},
	}
}
