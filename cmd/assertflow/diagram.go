package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/assertflow/internal/diagram"
	"github.com/rendis/assertflow/pkg/schema"
)

func (c *cli) diagramCmd() *cobra.Command {
	var (
		format string
		runID  string
		output string
	)
	cmd := &cobra.Command{
		Use:   "diagram <workflow-file>",
		Short: "Draw a workflow, optionally overlaid with a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, runID != "", func(ctx context.Context, a *app) error {
				loaded, err := a.loader.LoadFile(args[0])
				if err != nil {
					return err
				}

				var outcome *schema.RunOutcome
				if runID != "" {
					if outcome, err = a.recordedOutcome(ctx, runID); err != nil {
						return err
					}
				}

				model, err := diagram.Build(loaded.Definition, outcome)
				if err != nil {
					return err
				}

				var data []byte
				switch format {
				case "mermaid":
					data = []byte(diagram.RenderMermaid(model))
				case "ascii":
					data = []byte(diagram.RenderASCII(model))
				case "png", "svg":
					if data, err = diagram.RenderImage(ctx, model, diagram.ImageFormat(format)); err != nil {
						return err
					}
					if output == "" && format == "png" {
						return fmt.Errorf("png output needs --output")
					}
				default:
					return fmt.Errorf("unknown format %q (want mermaid, ascii, png or svg)", format)
				}

				if output != "" {
					return os.WriteFile(output, data, 0o644)
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&format, "format", "f", "mermaid", "Output format: mermaid, ascii, png, svg")
	f.StringVar(&runID, "run", "", "Overlay the outcome of this recorded run")
	f.StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func (a *app) recordedOutcome(ctx context.Context, runID string) (*schema.RunOutcome, error) {
	if err := a.requireHistory(); err != nil {
		return nil, err
	}
	run, err := a.history.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(run.Outcome) == 0 {
		// Unfinished run: overlay the phases it reached.
		trace, err := a.events.ReplayTrace(ctx, runID)
		if err != nil {
			return nil, err
		}
		return &schema.RunOutcome{RunID: run.ID, Workflow: run.Workflow, StepIndex: run.StepIndex, Trace: trace}, nil
	}
	var out schema.RunOutcome
	if err := json.Unmarshal(run.Outcome, &out); err != nil {
		return nil, fmt.Errorf("decode outcome of run %s: %w", runID, err)
	}
	return &out, nil
}
