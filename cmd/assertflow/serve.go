package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rendis/assertflow/pkg/mcp"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, true, func(ctx context.Context, a *app) error {
				deps := mcp.ServerDeps{
					Runner:         a.engine,
					Loader:         a.loader,
					Dialects:       a.dialects,
					DefaultDialect: a.cfg.Dialect,
					Version:        version,
					Logger:         a.logger,
				}
				if a.history != nil {
					deps.History = a.history
				}
				a.logger.Info("mcp server starting on stdio")
				return mcp.NewServer(deps).Serve(ctx)
			})
		},
	}
}
