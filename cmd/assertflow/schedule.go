package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/assertflow/internal/scheduler"
)

type jobRow struct {
	Name      string    `header:"JOB"`
	Cron      string    `header:"CRON"`
	Workflow  string    `header:"WORKFLOW"`
	NextRunAt time.Time `header:"NEXT RUN"`
}

func (c *cli) scheduleCmd() *cobra.Command {
	var (
		interval time.Duration
		runNow   string
		list     bool
	)
	cmd := &cobra.Command{
		Use:   "schedule <schedules-file>",
		Short: "Run workflows on cron schedules until interrupted",
		Long: "Load a YAML file with a top-level 'schedules' list of jobs\n" +
			"(name, cron, workflow, vars, timeout) and run each workflow when its\n" +
			"cron expression is due. Workflow paths are relative to the file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := scheduler.LoadJobs(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, true, func(ctx context.Context, a *app) error {
				sched := scheduler.New(a.engine, a.loader, a.logger, scheduler.Config{Interval: interval})
				for _, job := range jobs {
					if err := sched.Add(job); err != nil {
						return err
					}
				}

				w := cmd.OutOrStdout()
				if list {
					var rows []jobRow
					for _, st := range sched.Jobs() {
						rows = append(rows, jobRow{Name: st.Name, Cron: st.Cron, Workflow: st.Workflow, NextRunAt: st.NextRunAt})
					}
					return renderTable(w, rows, tableOptions{})
				}

				if runNow != "" {
					out, err := sched.RunNow(ctx, runNow)
					if err != nil {
						return err
					}
					writeOutcome(w, out)
					if code := exitCodeFor(out.Kind); code != exitOK {
						return &exitError{code: code}
					}
					return nil
				}

				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				if err := sched.Start(ctx); err != nil {
					return err
				}
				fmt.Fprintf(w, "scheduling %d jobs; press Ctrl-C to stop\n", len(jobs))
				<-ctx.Done()
				return sched.Stop()
			})
		},
	}

	f := cmd.Flags()
	f.DurationVar(&interval, "interval", 30*time.Second, "How often due jobs are checked")
	f.StringVar(&runNow, "run-now", "", "Run this job once immediately and exit")
	f.BoolVar(&list, "list", false, "List jobs with their next run time and exit")
	return cmd
}
